// Command fleetctl is the operator CLI for a fleet node: user provisioning
// against the local user store, and cluster membership/status queries
// against a node's cluster RPC endpoint. Grounded on
// cuemby-warren/cmd/warren/main.go's cobra command tree, which mixes
// direct-object commands (constructing a manager.Manager in-process) with
// remote commands (dialing a running node) the same way the two command
// groups below do.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meridianvpn/fleet/pkg/cluster"
	"github.com/meridianvpn/fleet/pkg/clusterrpc"
	"github.com/meridianvpn/fleet/pkg/user"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl manages fleet users and inspects cluster membership",
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/fleetd", "Data directory of the local user store")
	rootCmd.PersistentFlags().String("cluster-addr", "127.0.0.1:7946", "Cluster RPC address of a fleet node")

	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userGetCmd, userListCmd, userDeleteCmd, userLinkCmd, userQRCmd)

	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterStatusCmd, clusterJoinCmd, clusterLeaveCmd)
}

func openStore(cmd *cobra.Command) (*user.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return user.NewStore(dataDir, user.ServerTemplate{})
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage provisioned users in the local user store",
}

var userCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Provision a new user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePrivilege(cmd, writeOperations["user create"], args); err != nil {
			return err
		}
		protocol, _ := cmd.Flags().GetString("protocol")
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		u, err := store.CreateUser(args[0], user.Protocol(protocol))
		if err != nil {
			return err
		}
		return printJSON(u)
	},
}

func init() {
	userCreateCmd.Flags().String("protocol", string(user.ProtocolVLESS), "Protocol to provision (vless, outline, wireguard, openvpn, http-proxy, socks5-proxy, proxy-server)")
}

var userGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a user by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		u, err := store.GetUser(args[0])
		if err != nil {
			return err
		}
		return printJSON(u)
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioned users",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		users, err := store.ListUsers(user.ListOptions{SortBy: user.SortByName})
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPROTOCOL\tSTATUS")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Protocol, u.Status)
		}
		return w.Flush()
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePrivilege(cmd, writeOperations["user delete"], args); err != nil {
			return err
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.DeleteUser(args[0]); err != nil {
			return err
		}
		fmt.Println("deleted", args[0])
		return nil
	},
}

var userLinkCmd = &cobra.Command{
	Use:   "link ID",
	Short: "Print a user's connection link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		link, err := store.GenerateConnectionLink(args[0])
		if err != nil {
			return err
		}
		fmt.Println(link)
		return nil
	},
}

var userQRCmd = &cobra.Command{
	Use:   "qrcode ID OUTPUT_PATH",
	Short: "Write a user's connection link as a QR code PNG",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if err := store.GenerateQRCode(args[0], args[1]); err != nil {
			return err
		}
		fmt.Println("wrote", args[1])
		return nil
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Inspect and manage cluster membership",
}

var clusterStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cluster membership snapshot reported by a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialCluster(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := client.GetStatus(ctx)
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join NODE_ID NODE_NAME BIND_ADDR",
	Short: "Ask the node at --cluster-addr to admit a new member",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialCluster(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		self := &cluster.NodeRecord{ID: args[0], Name: args[1], BindAddress: args[2], Status: cluster.NodeActive}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := client.Join(ctx, self, "")
		if err != nil {
			return err
		}
		return printJSON(snap)
	},
}

var clusterLeaveCmd = &cobra.Command{
	Use:   "leave NODE_ID",
	Short: "Ask the node at --cluster-addr to remove a member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialCluster(cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Leave(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("left", args[0])
		return nil
	},
}

func dialCluster(cmd *cobra.Command) (*clusterrpc.Client, error) {
	addr, _ := cmd.Flags().GetString("cluster-addr")
	return clusterrpc.Dial(addr)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
