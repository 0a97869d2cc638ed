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
fixengine runs one node of the replicated FIX gateway cluster: it joins
the Raft-style consensus group over UDP, archives the replicated byte
stream to disk, and serves the Library<->Engine RPC protocol so library
processes can discover the current leader, claim a FIX session, and
fail over when this node loses leadership.

Usage:

	fixengine -config engine.toml
	fixengine -node-id 1 -node-addr 127.0.0.1:9710 -peers 127.0.0.1:9711,127.0.0.1:9712
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"fixgate/internal/archive"
	"fixgate/internal/audit"
	"fixgate/internal/compression"
	"fixgate/internal/config"
	"fixgate/internal/consensus"
	"fixgate/internal/discovery"
	"fixgate/internal/engine"
	"fixgate/internal/logging"
	"fixgate/internal/metrics"
	"fixgate/internal/transport"
	"fixgate/pkg/cli"
)

func main() {
	configFile := flag.String("config", "", "path to a TOML config file")
	nodeID := flag.String("node-id", "", "this engine's node identifier (overrides config/env)")
	nodeAddr := flag.String("node-addr", "", "host:port this engine binds its cluster socket to")
	peers := flag.String("peers", "", "comma-separated host:port list of the other cluster nodes")
	rpcAddr := flag.String("rpc-addr", "", "host:port the library RPC listener binds to (defaults to node-addr with port+1)")
	auditAddr := flag.String("audit-addr", "", "host:port the audit query listener binds to (defaults to node-addr with port+2)")
	advertise := flag.Bool("advertise", true, "advertise this engine's library RPC port via mDNS so fixctl discover can find it")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("fixengine v0.1.0")
		return
	}

	mgr := config.NewManager()
	if *configFile != "" {
		if _, err := os.Stat(*configFile); err != nil {
			cli.ErrConfigNotFound(*configFile).Exit()
		}
		if err := mgr.LoadFromFile(*configFile); err != nil {
			cli.NewCLIError("failed to load config file").WithDetail(err.Error()).Exit()
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *nodeAddr != "" {
		cfg.NodeAddr = *nodeAddr
	}
	if *peers != "" {
		cfg.Peers = splitNonEmpty(*peers)
	}

	if err := cfg.Validate(); err != nil {
		cli.NewCLIError("invalid configuration").WithDetail(err.Error()).Exit()
	}

	log := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogJSON, cfg.NodeID)
	log.Info("starting engine", logging.Fields{"node_addr": cfg.NodeAddr, "peers": len(cfg.Peers)})

	auditMgr := audit.NewManager(log, audit.DefaultConfig())
	defer auditMgr.Stop()

	clusterAudit := audit.NewClusterAuditManager(auditMgr, log, cfg.NodeID)
	clusterAudit.SetAdminPassword(cfg.AdminPassword)
	for i, p := range cfg.Peers {
		clusterAudit.AddPeer(strconv.Itoa(i+1), offsetAddr(p, "", 2))
	}

	archiveCfg := archive.Config{Dir: cfg.ArchiveDir, SegmentBytes: 64 * 1024 * 1024, Compression: compression.DefaultConfig()}
	store, err := archive.NewStore(archiveCfg, log)
	if err != nil {
		cli.NewCLIError("failed to open archive").WithDetail(err.Error()).Exit()
	}
	defer store.Close()

	udp, err := transport.NewUDPTransport(cfg.NodeAddr, log)
	if err != nil {
		cli.NewCLIError("failed to bind cluster socket").WithDetail(err.Error()).Exit()
	}
	defer udp.Close()

	const clusterSession = consensus.SessionID(1)
	controlPub, err := udp.ControlPublication(clusterSession, cfg.Peers)
	if err != nil {
		cli.NewCLIError("failed to construct control publication").WithDetail(err.Error()).Exit()
	}
	dataPub, err := udp.DataPublication(clusterSession, cfg.Peers)
	if err != nil {
		cli.NewCLIError("failed to construct data publication").WithDetail(err.Error()).Exit()
	}

	metricsReg := metrics.NewRegistry()

	agentCfg := consensus.AgentConfig{
		Self:              nodeIDFromString(cfg.NodeID),
		Session:           clusterSession,
		ClusterSize:       len(cfg.Peers) + 1,
		ElectionTimeout:   time.Duration(cfg.ElectionTimeoutMinMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
		ExpectedFragment:  transport.MaxFragmentBytes,
		InitialPosition:   store.EndPosition(),
		Strategy:          consensus.QuorumStrategy,
		Observer:          metricsReg,
	}

	sessionHandler := engine.NewLoggingSessionHandler(log)
	agent := consensus.NewClusterAgent(agentCfg, log, consensus.SystemClock{}, udp, controlPub, dataPub, sessionHandler, store, store)

	registry := engine.NewSessionRegistry()
	peerChannel := make(map[consensus.NodeID]string, len(cfg.Peers))
	for i, p := range cfg.Peers {
		peerChannel[consensus.NodeID(i+1)] = p
	}
	rpcAddress := offsetAddr(cfg.NodeAddr, *rpcAddr, 1)
	rpcServer := engine.NewServer(agent, registry, auditMgr, log, rpcAddress, peerChannel)

	go func() {
		if err := rpcServer.Serve(rpcAddress); err != nil {
			log.Error("library RPC listener stopped", logging.Fields{"error": err.Error()})
		}
	}()

	auditAddress := offsetAddr(cfg.NodeAddr, *auditAddr, 2)
	auditLn, err := net.Listen("tcp", auditAddress)
	if err != nil {
		cli.NewCLIError("failed to bind audit query listener").WithDetail(err.Error()).Exit()
	}
	defer auditLn.Close()
	go serveOperatorQueries(auditLn, auditMgr, clusterAudit, cfg.AdminPassword, log, func() metrics.ClusterStatus {
		return buildClusterStatus(cfg.NodeID, agent, metricsReg)
	})

	if *advertise {
		mdnsServer, err := discovery.Advertise(cfg.NodeID, rpcAddress)
		if err != nil {
			log.Warn("mDNS advertisement failed to start", logging.Fields{"error": err.Error()})
		} else {
			defer mdnsServer.Shutdown()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	lastRole := agent.Role()
	for {
		select {
		case <-sigCh:
			log.Info("shutting down", logging.Fields{})
			rpcServer.Close()
			return
		case <-ticker.C:
			agent.Poll(cfg.FragmentLimit)
			if role := agent.Role(); role != lastRole {
				clusterAudit.LogEvent(audit.Event{
					EventType: audit.EventTypeRoleTransition,
					Term:      int32(agent.Term().Term()),
					Detail:    role.String(),
					Status:    audit.StatusSuccess,
				})
				metricsReg.IncRoleTransitions()
				if role == consensus.RoleCandidate {
					metricsReg.IncElectionsStarted()
				}
				if lastRole == consensus.RoleCandidate && role == consensus.RoleLeader {
					metricsReg.IncElectionsWon()
				}
				lastRole = role
			}
		}
	}
}

// offsetAddr derives a secondary listener address from the cluster node
// address when one isn't explicitly configured, by incrementing the
// cluster port by delta.
func offsetAddr(nodeAddr, explicit string, delta int) string {
	if explicit != "" {
		return explicit
	}
	host, portStr, err := net.SplitHostPort(nodeAddr)
	if err != nil {
		return nodeAddr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nodeAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+delta))
}

// serveOperatorQueries answers the JSON-over-TCP request types fixctl and
// ClusterAuditManager.queryRemoteLogs speak against this port:
// "audit_query" (this node's trail), "cluster_audit_query" (merged across
// every reachable peer), and "status_query" (a ClusterStatus snapshot),
// so none of them needs the library RPC port to inspect a node.
func serveOperatorQueries(ln net.Listener, mgr *audit.Manager, clusterMgr *audit.ClusterAuditManager, adminPassword string, log *logging.Logger, status func() metrics.ClusterStatus) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(10 * time.Second))

			var request struct {
				Type     string             `json:"type"`
				Password string             `json:"password,omitempty"`
				Options  audit.QueryOptions `json:"options"`
			}
			if err := json.NewDecoder(conn).Decode(&request); err != nil {
				log.Warn("malformed operator query", logging.Fields{"error": err.Error()})
				return
			}

			// Auth is opt-in: only enforced when an admin password is
			// configured (through FIXGATE_ADMIN_PASSWORD; the config file
			// has no key for it).
			if adminPassword != "" && request.Password != adminPassword {
				json.NewEncoder(conn).Encode(map[string]interface{}{
					"success": false, "error": "authentication failed",
				})
				return
			}

			switch request.Type {
			case "status_query":
				json.NewEncoder(conn).Encode(struct {
					Success bool                 `json:"success"`
					Status  metrics.ClusterStatus `json:"status"`
				}{Success: true, Status: status()})

			case "cluster_audit_query":
				events, err := clusterMgr.QueryLogsAcrossCluster(request.Options)
				response := struct {
					Success bool          `json:"success"`
					Events  []audit.Event `json:"events"`
					Error   string        `json:"error"`
				}{Success: err == nil, Events: events}
				if err != nil {
					response.Error = err.Error()
				}
				json.NewEncoder(conn).Encode(response)

			default:
				events, err := mgr.QueryLogs(request.Options)
				response := struct {
					Success bool          `json:"success"`
					Events  []audit.Event `json:"events"`
					Error   string        `json:"error"`
				}{Success: err == nil, Events: events}
				if err != nil {
					response.Error = err.Error()
				}
				json.NewEncoder(conn).Encode(response)
			}
		}()
	}
}

// buildClusterStatus snapshots the agent's term state and this node's
// metrics registry into a ClusterStatus.
func buildClusterStatus(nodeID string, agent *consensus.ClusterAgent, reg *metrics.Registry) metrics.ClusterStatus {
	term := agent.Term()
	elStarted, elWon, transitions, malformed, stale := reg.Snapshot()
	return metrics.ClusterStatus{
		NodeID:           nodeID,
		Role:             agent.Role().String(),
		Term:             int64(term.Term()),
		Position:         int64(term.Position()),
		CommitPosition:   int64(term.CommitPosition()),
		PositionLag:      int64(term.Position() - term.CommitPosition()),
		HasLeader:        term.HasLeader(),
		LeaderSessionID:  int32(term.LeaderSessionID()),
		ElectionsStarted: elStarted,
		ElectionsWon:     elWon,
		RoleTransitions:  transitions,
		MalformedFrames:  malformed,
		StaleFrames:      stale,
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// nodeIDFromString resolves a configured node identifier to the small
// integer consensus.NodeID space. Numeric identifiers ("1", "2", ...) map
// directly; anything else is folded down via FNV-1a so operators can use
// descriptive node names without every engine agreeing on a side table.
func nodeIDFromString(s string) consensus.NodeID {
	if n, err := strconv.ParseInt(s, 10, 16); err == nil {
		return consensus.NodeID(n)
	}
	h := fnv.New32a()
	h.Write([]byte(s))
	return consensus.NodeID(h.Sum32() % 32767)
}
