package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meridianvpn/fleet/pkg/audit"
	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// writeOperations are the user-store mutations that change what a client
// holding a provisioned link can do, so they're gated on root the same way
// the "create", "delete", "update", "import" user subcommands were in the
// program fleetctl's user management descends from. Read-only lookups
// (get, list) and derivations of already-granted access (link, qrcode)
// aren't gated.
var writeOperations = map[string]string{
	"user create": "Create VPN User",
	"user delete": "Delete VPN User",
}

// currentUser resolves the identity recorded against a privilege decision.
// SUDO_USER (set by sudo before it drops into the target uid) is preferred
// so the audit trail shows who invoked the command, not just "root".
func currentUser() (actingAs, original string) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		return "root", sudoUser
	}
	if u, err := user.Current(); err == nil {
		return u.Username, ""
	}
	return "unknown", ""
}

// auditLogPath places the privilege log inside the node's own data
// directory rather than a fixed system path, since fleetctl has no
// installed-daemon assumption the way the CLI it's grounded on did.
func auditLogPath(cmd *cobra.Command) string {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	return filepath.Join(dataDir, "privilege_audit.log")
}

// requirePrivilege gates a write operation on the process's effective uid,
// recording the decision to the privilege audit log either way. A non-root
// invocation is rejected outright; this CLI never attempts the interactive
// sudo re-exec its ancestor did, since fleetctl is meant to run under
// whatever identity owns the node's data directory.
func requirePrivilege(cmd *cobra.Command, operation string, args []string) error {
	logger := audit.New(auditLogPath(cmd))
	actingAs, original := currentUser()
	command := append([]string{cmd.CommandPath()}, args...)

	if isRoot() {
		logger.LogGrant(actingAs, original, operation, command)
		return nil
	}

	reason := "process is not running with root privileges"
	logger.LogDenial(actingAs, operation, command, reason)
	return fmt.Errorf("%w: %s requires root (%s)", ferrors.ErrPermissionDenied, operation, reason)
}

// isRoot reports whether the process holds root's effective uid. os.Geteuid
// returns -1 on platforms without the concept of a uid, which is treated as
// "nothing to gate" rather than a denial.
func isRoot() bool {
	euid := os.Geteuid()
	return euid == -1 || euid == 0
}
