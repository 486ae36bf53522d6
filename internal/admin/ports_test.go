package admin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortDequeFIFO(t *testing.T) {
	d := newPortDeque(9736, 9738, nil)

	p1, err := d.pop()
	require.NoError(t, err)
	require.Equal(t, 9736, p1)

	p2, err := d.pop()
	require.NoError(t, err)
	require.Equal(t, 9737, p2)
}

func TestPortDequeExcludesUsed(t *testing.T) {
	d := newPortDeque(9736, 9738, map[int]struct{}{9736: {}})

	p, err := d.pop()
	require.NoError(t, err)
	require.Equal(t, 9737, p)
}

func TestPortDequePushFrontReusesImmediately(t *testing.T) {
	d := newPortDeque(9736, 9737, nil)

	p1, err := d.pop()
	require.NoError(t, err)
	require.Equal(t, 9736, p1)

	d.pushFront(p1)

	p2, err := d.pop()
	require.NoError(t, err)
	require.Equal(t, 9736, p2)
}

func TestPortDequeExhausted(t *testing.T) {
	d := newPortDeque(9736, 9736, nil)

	_, err := d.pop()
	require.NoError(t, err)

	_, err = d.pop()
	require.Error(t, err)
}
