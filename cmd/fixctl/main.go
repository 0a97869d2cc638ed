/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
fixctl is the gateway operator's command-line tool: it probes an engine's
library-facing RPC port to report leadership, queries an engine's audit
trail, discovers engines advertising themselves on the local network via
mDNS, and offers an interactive shell for running these commands
repeatedly against a cluster during an incident.

Usage:

	fixctl status 127.0.0.1:9711
	fixctl audit 127.0.0.1:9712 --event-type ROLE_TRANSITION --limit 20
	fixctl discover --timeout 5
	fixctl discover --dns 10.0.0.2:53
	fixctl shell
*/
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"fixgate/internal/audit"
	"fixgate/internal/discovery"
	"fixgate/internal/metrics"
	"fixgate/internal/protocol"
	"fixgate/pkg/cli"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		cmdStatus(os.Args[2:])
	case "audit":
		cmdAudit(os.Args[2:])
	case "discover":
		cmdDiscover(os.Args[2:])
	case "shell":
		cmdShell()
	case "-h", "--help", "help":
		if len(os.Args) > 2 {
			usageFormatter().PrintCommandHelp(os.Args[2])
			return
		}
		printUsage()
	default:
		cli.ErrInvalidCommand(os.Args[1]).Exit()
	}
}

func usageFormatter() *cli.HelpFormatter {
	f := cli.NewHelpFormatter("fixctl", "0.1.0")
	f.AddCommand(cli.Command{
		Name:        "status",
		Description: "probe an engine's leadership and connectivity",
		Usage:       "fixctl status <host:port>",
		Examples: []cli.Example{
			{Description: "ask the first engine who leads", Command: "fixctl status 127.0.0.1:9711"},
		},
	})
	f.AddCommand(cli.Command{
		Name:        "audit",
		Description: "query an engine's audit trail",
		Usage:       "fixctl audit <host:port> [flags]",
		Flags: []cli.Flag{
			{Name: "cluster", Description: "merge trails from every reachable peer"},
			{Name: "event-type", Description: "filter by event type (e.g. ROLE_TRANSITION)"},
			{Name: "limit", Description: "maximum events to return", Default: "50"},
			{Name: "node-id", Description: "filter by originating node"},
			{Name: "format", Description: "table, json, or plain", Default: "table"},
			{Name: "output", Description: "write events to a JSON file instead of stdout"},
		},
		Examples: []cli.Example{
			{Description: "recent failovers across the whole cluster", Command: "fixctl audit 127.0.0.1:9712 --cluster --event-type ROLE_TRANSITION"},
		},
	})
	f.AddCommand(cli.Command{
		Name:        "discover",
		Description: "find engines via mDNS or a DNS SRV record",
		Usage:       "fixctl discover [--timeout seconds] [--dns resolver:port]",
	})
	f.AddCommand(cli.Command{Name: "shell", Description: "start an interactive session for repeated commands"})
	return f
}

func printUsage() {
	usageFormatter().PrintUsage()
}

// cmdStatus dials an engine's library RPC port and sends a probe
// LibraryConnect, reporting whether the engine identifies itself as
// leader or hands back a redirect.
func cmdStatus(args []string) {
	if len(args) < 1 {
		cli.ErrMissingArgument("host:port", "fixctl status <host:port>").Print()
		return
	}
	addr := args[0]

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		host, port := splitAddr(addr)
		cli.ErrConnectionFailed(host, port, err).Print()
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	probe := protocol.LibraryConnect{CorrelationID: time.Now().UnixNano(), LibraryID: 0, Nonce: time.Now().UnixNano(), LibraryChannel: "fixctl"}
	if err := protocol.WriteMessage(conn, protocol.MsgLibraryConnect, probe.Encode()); err != nil {
		cli.NewCLIError("failed to send probe").WithDetail(err.Error()).Print()
		return
	}

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		cli.NewCLIError("failed to read engine reply").WithDetail(err.Error()).Print()
		return
	}
	if msg.Header.Type != protocol.MsgInitiateConnection {
		cli.NewCLIError("unexpected reply from engine").WithDetail(fmt.Sprintf("type 0x%02x", msg.Header.Type)).Print()
		return
	}
	reply, err := protocol.DecodeInitiateConnection(msg.Payload)
	if err != nil {
		cli.NewCLIError("malformed reply from engine").WithDetail(err.Error()).Print()
		return
	}

	if reply.IsLeader {
		cli.PrintSuccess("%s is the current leader", addr)
	} else if reply.LeaderChannel != "" {
		cli.PrintWarning("%s is a follower; leader is %s", addr, reply.LeaderChannel)
	} else {
		cli.PrintWarning("%s is a follower; leader unknown from this node", addr)
	}

	if status, err := queryStatus(operatorAddr(addr)); err == nil {
		cli.KeyValue("role", status.Role, 12)
		cli.KeyValue("term", strconv.FormatInt(status.Term, 10), 12)
		cli.KeyValue("position", strconv.FormatInt(status.Position, 10), 12)
		cli.KeyValue("commit", strconv.FormatInt(status.CommitPosition, 10), 12)
		cli.KeyValue("lag", strconv.FormatInt(status.PositionLag, 10), 12)
		cli.KeyValue("elections", fmt.Sprintf("%d won / %d started", status.ElectionsWon, status.ElectionsStarted), 12)
		cli.KeyValue("transitions", strconv.FormatInt(status.RoleTransitions, 10), 12)
	}
}

// operatorAddr derives the audit/status query port from the library RPC
// address fixctl was given: cmd/fixengine binds the two one port apart.
func operatorAddr(rpcAddr string) string {
	host, portStr, err := net.SplitHostPort(rpcAddr)
	if err != nil {
		return rpcAddr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return rpcAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1))
}

func queryStatus(addr string) (metrics.ClusterStatus, error) {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return metrics.ClusterStatus{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	request := map[string]string{"type": "status_query"}
	if pw := os.Getenv("FIXGATE_ADMIN_PASSWORD"); pw != "" {
		request["password"] = pw
	}
	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return metrics.ClusterStatus{}, err
	}

	var response struct {
		Success bool                  `json:"success"`
		Status  metrics.ClusterStatus `json:"status"`
	}
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return metrics.ClusterStatus{}, err
	}
	if !response.Success {
		return metrics.ClusterStatus{}, fmt.Errorf("remote status query failed")
	}
	return response.Status, nil
}

// cmdAudit queries an engine's audit trail over the JSON audit protocol
// the engine's audit listener speaks (see cmd/fixengine).
func cmdAudit(args []string) {
	if len(args) < 1 {
		cli.ErrMissingArgument("host:port", "fixctl audit <host:port> [--event-type TYPE] [--limit N]").Print()
		return
	}
	addr := args[0]

	opts := audit.QueryOptions{Limit: 50}
	cluster := false
	format := cli.FormatTable
	outputPath := ""
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "--cluster":
			cluster = true
		case "--event-type":
			if i+1 < len(args) {
				i++
				opts.EventType = audit.EventType(args[i])
			}
		case "--limit":
			if i+1 < len(args) {
				i++
				n, err := strconv.Atoi(args[i])
				if err != nil {
					cli.ErrInvalidValue("--limit", args[i], "must be an integer").Print()
					return
				}
				opts.Limit = n
			}
		case "--node-id":
			if i+1 < len(args) {
				i++
				opts.NodeID = args[i]
			}
		case "--format":
			if i+1 < len(args) {
				i++
				format = cli.ParseOutputFormat(args[i])
			}
		case "--output":
			if i+1 < len(args) {
				i++
				outputPath = args[i]
			}
		}
	}

	queryType := "audit_query"
	if cluster {
		queryType = "cluster_audit_query"
	}
	events, err := queryAudit(addr, queryType, opts)
	if err != nil {
		if strings.Contains(err.Error(), "authentication failed") {
			cli.ErrAuthFailed().Print()
			return
		}
		cli.NewCLIError("audit query failed").WithDetail(err.Error()).Print()
		return
	}
	if len(events) == 0 {
		cli.PrintInfo("no audit events matched")
		return
	}

	if outputPath != "" {
		if _, err := os.Stat(outputPath); err == nil {
			if !cli.Confirm(fmt.Sprintf("%s already exists and will be overwritten", outputPath)) {
				return
			}
		}
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			cli.NewCLIError("failed to encode audit events").WithDetail(err.Error()).Print()
			return
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			cli.NewCLIError("failed to write audit export").WithDetail(err.Error()).Print()
			return
		}
		cli.PrintSuccess("wrote %d events to %s", len(events), outputPath)
		return
	}

	table := cli.NewTable("TIMESTAMP", "EVENT", "NODE", "TERM", "DETAIL")
	table.SetFormat(format)
	for _, e := range events {
		table.AddRow(e.Timestamp.Format(time.RFC3339), string(e.EventType), e.NodeID,
			strconv.Itoa(int(e.Term)), e.Detail)
	}
	table.Print()
}

// splitAddr separates a host:port dial address for error messages, falling
// back to treating the whole string as the host if it doesn't parse.
func splitAddr(addr string) (host, port string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}

func queryAudit(addr, queryType string, opts audit.QueryOptions) ([]audit.Event, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	request := map[string]interface{}{"type": queryType, "options": opts}
	if pw := os.Getenv("FIXGATE_ADMIN_PASSWORD"); pw != "" {
		request["password"] = pw
	}
	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return nil, err
	}

	var response struct {
		Success bool          `json:"success"`
		Events  []audit.Event `json:"events"`
		Error   string        `json:"error"`
	}
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, fmt.Errorf("remote query failed: %s", response.Error)
	}
	return response.Events, nil
}

// cmdDiscover looks for engines either via mDNS on the local network or,
// with --dns, via a DNS SRV query against a resolver. This
// is purely an operator aid: the cluster's own membership is fixed by its
// configured peer list, not by what this command finds.
func cmdDiscover(args []string) {
	timeout := 5 * time.Second
	var resolver string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--timeout":
			if i+1 < len(args) {
				if secs, err := strconv.Atoi(args[i+1]); err == nil {
					timeout = time.Duration(secs) * time.Second
				}
				i++
			}
		case "--dns":
			if i+1 < len(args) {
				resolver = args[i+1]
				i++
			}
		}
	}

	if resolver != "" {
		cli.PrintInfo("querying %s for SRV records...", resolver)
		found, err := discovery.LookupSRV(discovery.ServiceName+".local.", resolver)
		if err != nil {
			cli.NewCLIError("discovery failed").WithDetail(err.Error()).Print()
			return
		}
		printDiscovered(found)
		return
	}

	spinner := cli.NewSpinner(fmt.Sprintf("scanning for engines (timeout: %s)...", timeout))
	spinner.Start()
	found, err := discovery.LookupMDNS(timeout)
	spinner.Stop()
	if err != nil {
		cli.NewCLIError("discovery failed").WithDetail(err.Error()).Print()
		return
	}
	printDiscovered(found)
}

func printDiscovered(found []discovery.Endpoint) {
	if len(found) == 0 {
		cli.PrintWarning("no engines found advertising %s", discovery.ServiceName)
		return
	}
	cli.PrintSuccess("found %d engine(s)", len(found))
	table := cli.NewTable("NAME", "ADDRESS")
	for _, e := range found {
		table.AddRow(e.Name, e.Addr)
	}
	table.Print()
}

// cmdShell runs an interactive readline-backed REPL so an operator can
// run status/audit/discover repeatedly against a cluster without
// re-invoking the binary, with history and line editing.
func cmdShell() {
	rl, err := readline.New("fixctl> ")
	if err != nil {
		cli.NewCLIError("failed to start shell").WithDetail(err.Error()).Exit()
	}
	defer rl.Close()

	cli.PrintInfo("interactive shell; type 'help' for commands, 'exit' to quit")
	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on Ctrl-D, readline.ErrInterrupt on Ctrl-C
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "exit", "quit":
			return
		case "help":
			printUsage()
		case "status":
			cmdStatus(fields[1:])
		case "audit":
			cmdAudit(fields[1:])
		case "discover":
			cmdDiscover(fields[1:])
		default:
			cli.PrintWarning("unknown command %q", fields[0])
		}
	}
}
