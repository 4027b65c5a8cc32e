// lncmd is a small command-line client for a Lightning node's commando
// RPC interface. It connects to the node over the encrypted peer
// transport with a throwaway identity, authenticates RPC calls with a
// rune, and prints the JSON results.
//
// Connection settings come from flags, or from a YAML config file
// (default ~/.lncmd.yaml) with the same keys:
//
//	address: ln.example.com:9735
//	node_id: 03abc...
//	rune: xxxxx
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opd-ai/lnsocket"
	"github.com/opd-ai/lnsocket/commando"
	"github.com/opd-ai/lnsocket/crypto"
	"github.com/opd-ai/lnsocket/wire"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lncmd",
		Short: "Talk to a Lightning node over its peer transport",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd)
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.lncmd.yaml)")
	flags.String("address", "", "node address as host:port")
	flags.String("node-id", "", "node identity public key, hex")
	flags.String("rune", "", "rune authorizing RPC calls")
	flags.Duration("timeout", 30*time.Second, "overall call timeout")
	flags.Bool("verbose", false, "enable debug logging")

	root.AddCommand(getinfoCmd(), callCmd(), pingCmd())
	return root
}

func initConfig(cmd *cobra.Command) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigName(".lncmd")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("LNCMD")
	viper.AutomaticEnv()

	for flag, key := range map[string]string{
		"address": "address",
		"node-id": "node_id",
		"rune":    "rune",
		"timeout": "timeout",
		"verbose": "verbose",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	// A missing default config file is fine; flags may carry everything.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if viper.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	return nil
}

// dial opens a socket to the configured node.
func dial(ctx context.Context) (*lnsocket.Socket, error) {
	address := viper.GetString("address")
	if address == "" {
		return nil, fmt.Errorf("no node address configured")
	}

	nodeIDHex := viper.GetString("node_id")
	if nodeIDHex == "" {
		return nil, fmt.Errorf("no node id configured")
	}
	nodeIDBytes, err := hex.DecodeString(nodeIDHex)
	if err != nil {
		return nil, fmt.Errorf("invalid node id: %w", err)
	}
	nodeID, err := crypto.ParsePublicKey(nodeIDBytes)
	if err != nil {
		return nil, fmt.Errorf("invalid node id: %w", err)
	}

	// A fresh identity per invocation; the node does not care who we
	// are, the rune carries the authorization.
	ourKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	return lnsocket.ConnectAndInit(ctx, ourKey, nodeID, address, nil)
}

// withSocket runs f against a connected socket under the configured
// timeout.
func withSocket(f func(ctx context.Context, sock *lnsocket.Socket) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
	defer cancel()

	sock, err := dial(ctx)
	if err != nil {
		return err
	}
	defer sock.Close()

	return f(ctx, sock)
}

// printResult pretty-prints a JSON result to stdout.
func printResult(result json.RawMessage) error {
	var buf any
	if err := json.Unmarshal(result, &buf); err != nil {
		// Not an object we can pretty-print; emit raw.
		fmt.Println(string(result))
		return nil
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func rpcCall(method string, params any) error {
	runeStr := viper.GetString("rune")
	if runeStr == "" {
		return fmt.Errorf("no rune configured")
	}

	return withSocket(func(ctx context.Context, sock *lnsocket.Socket) error {
		client := commando.NewClient(runeStr)
		result, err := client.Call(ctx, sock, method, params)
		if err != nil {
			return err
		}
		return printResult(result)
	})
}

func getinfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "getinfo",
		Short: "Fetch the node's getinfo summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rpcCall("getinfo", nil)
		},
	}
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Invoke an arbitrary RPC method",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return fmt.Errorf("params must be valid JSON: %w", err)
				}
			}
			return rpcCall(args[0], params)
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the node answers transport pings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSocket(func(ctx context.Context, sock *lnsocket.Socket) error {
				start := time.Now()
				if err := sock.Ping(16); err != nil {
					return err
				}
				for {
					msg, err := sock.ReadMessage()
					if err != nil {
						return err
					}
					if _, ok := msg.(*wire.Pong); ok {
						fmt.Printf("pong in %v\n", time.Since(start).Round(time.Millisecond))
						return nil
					}
				}
			})
		},
	}
}
