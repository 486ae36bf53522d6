package admin

import "github.com/lnhostd/lnhost/internal/lnerrors"

// portDeque hands out listen ports in strict FIFO order, seeded once at
// startup with every port in [min, max] not already assigned to a
// tenant. A port is pushed back to the front (not the back) on release
// or on a failed CreateNode, so it is the very next one handed out
// rather than cycling to the end of the range.
type portDeque struct {
	ports []int
}

func newPortDeque(min, max int, used map[int]struct{}) *portDeque {
	d := &portDeque{}
	for p := min; p <= max; p++ {
		if _, taken := used[p]; !taken {
			d.ports = append(d.ports, p)
		}
	}
	return d
}

// pop removes and returns the front of the deque.
func (d *portDeque) pop() (int, error) {
	if len(d.ports) == 0 {
		return 0, lnerrors.New(lnerrors.KindPrecondition, "no listen ports available")
	}
	p := d.ports[0]
	d.ports = d.ports[1:]
	return p, nil
}

// pushFront returns a port to the front of the deque, for immediate
// reuse on release or on a failed tenant insertion.
func (d *portDeque) pushFront(p int) {
	d.ports = append([]int{p}, d.ports...)
}
