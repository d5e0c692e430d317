// Command axonctl is a thin client for axond's control socket. Subcommand
// parsing and argument validation are minimal by design: the daemon is the
// authority on every command's semantics.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")

	var socketPath string
	root := &cobra.Command{Use: "axonctl"}
	root.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath(), "path to the daemon's control socket")

	root.AddCommand(
		sendCmd(&socketPath),
		simpleCmd(&socketPath, "peers", "list known peers"),
		simpleCmd(&socketPath, "status", "show daemon status"),
		simpleCmd(&socketPath, "whoami", "show local identity"),
		addPeerCmd(&socketPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "control.sock"
	}
	return home + "/.axon/control.sock"
}

func simpleCmd(socketPath *string, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(*socketPath, map[string]any{"cmd": name})
		},
	}
}

func sendCmd(socketPath *string) *cobra.Command {
	var to, kind, payload, ref string
	var timeoutSecs float64
	cmd := &cobra.Command{
		Use:   "send",
		Short: "send a message or request to a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{"cmd": "send", "to": to, "kind": kind}
			var raw json.RawMessage = json.RawMessage(payload)
			req["payload"] = raw
			if ref != "" {
				req["ref"] = ref
			}
			if timeoutSecs > 0 {
				req["timeout_secs"] = timeoutSecs
			}
			return sendCommand(*socketPath, req)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination agent id")
	cmd.Flags().StringVar(&kind, "kind", "message", "\"message\" or \"request\"")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload object")
	cmd.Flags().StringVar(&ref, "ref", "", "optional reply correlation id")
	cmd.Flags().Float64Var(&timeoutSecs, "timeout", 0, "request timeout in seconds")
	return cmd
}

func addPeerCmd(socketPath *string) *cobra.Command {
	var pubkey, addr string
	cmd := &cobra.Command{
		Use:   "add-peer",
		Short: "add a static peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendCommand(*socketPath, map[string]any{
				"cmd":    "add_peer",
				"pubkey": pubkey,
				"addr":   addr,
			})
		},
	}
	cmd.Flags().StringVar(&pubkey, "pubkey", "", "base64 ed25519 public key")
	cmd.Flags().StringVar(&addr, "addr", "", "host:port")
	return cmd
}

func sendCommand(socketPath string, req map[string]any) error {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return fmt.Errorf("no reply from daemon")
	}

	var pretty map[string]any
	if err := json.Unmarshal(scanner.Bytes(), &pretty); err != nil {
		fmt.Println(scanner.Text())
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if ok, present := pretty["ok"]; present {
		if okBool, isBool := ok.(bool); isBool && !okBool {
			if code, _ := pretty["error"].(string); code == "timeout" {
				os.Exit(3)
			}
			os.Exit(1)
		}
	}
	return nil
}
