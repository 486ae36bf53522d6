// lnhostctl is lnhostd's control-plane CLI, grounded on lncli's own
// urfave/cli command tree and global --rpcserver-style flags, adapted
// to dial AdminService's JSON control surface instead of a generated
// gRPC client (lnhostd registers no RPC methods; see DESIGN.md).
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[lnhostctl] %v\n", err)
	os.Exit(1)
}

func serverURL(ctx *cli.Context, path string) string {
	return "http://" + ctx.GlobalString("rpcserver") + path
}

func credentialHeader(ctx *cli.Context, req *http.Request) {
	if mac := ctx.GlobalString("macaroon"); mac != "" {
		req.Header.Set("X-Macaroon", mac)
		return
	}
	if tok := ctx.GlobalString("token"); tok != "" {
		req.Header.Set("X-Token", tok)
	}
}

func doRequest(ctx *cli.Context, method, path string, body interface{}) ([]byte, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, serverURL(ctx, path), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	credentialHeader(ctx, req)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, string(out))
	}
	return out, nil
}

var createAdminCommand = cli.Command{
	Name:  "create-admin",
	Usage: "bootstrap or re-fetch the root tenant's access token",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "passphrase"},
		cli.BoolFlag{Name: "start"},
	},
	Action: func(ctx *cli.Context) error {
		body := map[string]interface{}{
			"passphrase": ctx.String("passphrase"),
			"start":      ctx.Bool("start"),
		}
		out, err := doRequest(ctx, http.MethodPost, "/v1/admin", body)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var createNodeCommand = cli.Command{
	Name:  "create-node",
	Usage: "materialize a new Default tenant",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "username"},
		cli.StringFlag{Name: "alias"},
		cli.StringFlag{Name: "listenaddr"},
		cli.StringFlag{Name: "passphrase"},
		cli.BoolFlag{Name: "start"},
	},
	Action: func(ctx *cli.Context) error {
		body := map[string]interface{}{
			"Username":   ctx.String("username"),
			"Alias":      ctx.String("alias"),
			"ListenAddr": ctx.String("listenaddr"),
			"Passphrase": ctx.String("passphrase"),
			"Start":      ctx.Bool("start"),
		}
		out, err := doRequest(ctx, http.MethodPost, "/v1/nodes", body)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var startNodeCommand = cli.Command{
	Name:      "start",
	Usage:     "start a tenant's node",
	ArgsUsage: "pubkey",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "passphrase"},
	},
	Action: func(ctx *cli.Context) error {
		body := map[string]interface{}{
			"pubkey":     ctx.Args().First(),
			"passphrase": ctx.String("passphrase"),
		}
		_, err := doRequest(ctx, http.MethodPost, "/v1/nodes/start", body)
		return err
	},
}

var stopNodeCommand = cli.Command{
	Name:      "stop",
	Usage:     "stop a running tenant's node",
	ArgsUsage: "pubkey",
	Action: func(ctx *cli.Context) error {
		body := map[string]interface{}{"pubkey": ctx.Args().First()}
		_, err := doRequest(ctx, http.MethodPost, "/v1/nodes/stop", body)
		return err
	},
}

var deleteNodeCommand = cli.Command{
	Name:      "delete",
	Usage:     "delete a stopped tenant",
	ArgsUsage: "pubkey",
	Action: func(ctx *cli.Context) error {
		body := map[string]interface{}{"pubkey": ctx.Args().First()}
		_, err := doRequest(ctx, http.MethodPost, "/v1/nodes/delete", body)
		return err
	},
}

var statusCommand = cli.Command{
	Name:      "status",
	Usage:     "show a tenant's status",
	ArgsUsage: "pubkey",
	Action: func(ctx *cli.Context) error {
		path := fmt.Sprintf("/v1/status?pubkey=%s", ctx.Args().First())
		out, err := doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		var status map[string]interface{}
		if err := json.Unmarshal(out, &status); err != nil {
			return err
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"field", "value"})
		for k, v := range status {
			t.AppendRow(table.Row{k, v})
		}
		fmt.Println(t.Render())
		return nil
	},
}

var createTokenCommand = cli.Command{
	Name:  "create-token",
	Usage: "mint a scoped admin access token",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "name"},
		cli.StringFlag{Name: "scope", Value: "*"},
		cli.Int64Flag{Name: "expiry"},
		cli.BoolFlag{Name: "single-use"},
	},
	Action: func(ctx *cli.Context) error {
		body := map[string]interface{}{
			"name":       ctx.String("name"),
			"scope":      ctx.String("scope"),
			"expiry":     ctx.Int64("expiry"),
			"single_use": ctx.Bool("single-use"),
		}
		out, err := doRequest(ctx, http.MethodPost, "/v1/tokens", body)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var listTokensCommand = cli.Command{
	Name:  "list-tokens",
	Usage: "list every admin access token",
	Action: func(ctx *cli.Context) error {
		out, err := doRequest(ctx, http.MethodGet, "/v1/tokens", nil)
		if err != nil {
			return err
		}
		var tokens []map[string]interface{}
		if err := json.Unmarshal(out, &tokens); err != nil {
			return err
		}
		t := table.NewWriter()
		t.AppendHeader(table.Row{"id", "name", "scope", "expiry"})
		for _, tok := range tokens {
			t.AppendRow(table.Row{tok["ID"], tok["Name"], tok["Scope"], tok["Expiry"]})
		}
		fmt.Println(t.Render())
		return nil
	},
}

var deleteTokenCommand = cli.Command{
	Name:      "delete-token",
	Usage:     "revoke an admin access token",
	ArgsUsage: "id",
	Action: func(ctx *cli.Context) error {
		path := fmt.Sprintf("/v1/tokens?id=%s", ctx.Args().First())
		_, err := doRequest(ctx, http.MethodDelete, path, nil)
		return err
	},
}

func main() {
	app := cli.NewApp()
	app.Name = "lnhostctl"
	app.Usage = "control plane for lnhostd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:8080",
			Usage: "host:port of lnhostd's admin control surface",
		},
		cli.StringFlag{
			Name:  "macaroon",
			Usage: "hex-encoded tenant macaroon",
		},
		cli.StringFlag{
			Name:  "token",
			Usage: "hex-encoded admin access token",
		},
	}
	app.Commands = []cli.Command{
		createAdminCommand,
		createNodeCommand,
		startNodeCommand,
		stopNodeCommand,
		deleteNodeCommand,
		statusCommand,
		createTokenCommand,
		listTokensCommand,
		deleteTokenCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
