/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 * Licensed under the Apache License, Version 2.0
 */

package audit

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"fixgate/internal/logging"
)

// ClusterAuditManager aggregates audit trails across engine nodes so an
// operator can ask "what happened cluster-wide around this failover"
// instead of polling each node's trail by hand.
type ClusterAuditManager struct {
	local  *Manager
	logger *logging.Logger
	mu     sync.RWMutex

	nodeID string
	peers  map[string]string // nodeID -> audit query address

	// adminPassword is forwarded on remote queries when the cluster's
	// operator listeners are password-gated.
	adminPassword string
}

// NewClusterAuditManager creates a new cluster audit manager wrapping a
// node-local Manager.
func NewClusterAuditManager(local *Manager, log *logging.Logger, nodeID string) *ClusterAuditManager {
	return &ClusterAuditManager{
		local:  local,
		logger: log,
		nodeID: nodeID,
		peers:  make(map[string]string),
	}
}

// SetAdminPassword sets the password forwarded to peers whose operator
// listeners require one.
func (cam *ClusterAuditManager) SetAdminPassword(pw string) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.adminPassword = pw
}

// AddPeer registers a cluster peer's audit query address.
func (cam *ClusterAuditManager) AddPeer(nodeID, address string) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	cam.peers[nodeID] = address
	cam.logger.Info("added audit peer", logging.Fields{"node_id": nodeID, "address": address})
}

// RemovePeer removes a cluster peer.
func (cam *ClusterAuditManager) RemovePeer(nodeID string) {
	cam.mu.Lock()
	defer cam.mu.Unlock()
	delete(cam.peers, nodeID)
}

// LogEvent logs an audit event against the local trail, stamping this
// node's id.
func (cam *ClusterAuditManager) LogEvent(event Event) {
	event.NodeID = cam.nodeID
	cam.local.LogEvent(event)
}

// QueryLogsAcrossCluster queries the local trail and every known peer,
// merging results sorted by timestamp. A peer that cannot be reached
// contributes nothing to the result rather than failing the whole query.
func (cam *ClusterAuditManager) QueryLogsAcrossCluster(opts QueryOptions) ([]Event, error) {
	localLogs, err := cam.local.QueryLogs(opts)
	if err != nil {
		return nil, fmt.Errorf("query local logs: %w", err)
	}

	cam.mu.RLock()
	peers := make(map[string]string, len(cam.peers))
	for nodeID, addr := range cam.peers {
		peers[nodeID] = addr
	}
	cam.mu.RUnlock()

	all := make([]Event, 0, len(localLogs))
	all = append(all, localLogs...)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for nodeID, addr := range peers {
		wg.Add(1)
		go func(nid, address string) {
			defer wg.Done()
			remote, err := cam.queryRemoteLogs(address, opts)
			if err != nil {
				cam.logger.Warn("failed to query remote audit logs", logging.Fields{"node_id": nid, "error": err.Error()})
				return
			}
			mu.Lock()
			all = append(all, remote...)
			mu.Unlock()
		}(nodeID, addr)
	}
	wg.Wait()

	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	return all, nil
}

// queryRemoteLogs queries audit logs from a remote node's audit endpoint.
func (cam *ClusterAuditManager) queryRemoteLogs(address string, opts QueryOptions) ([]Event, error) {
	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial remote node: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	cam.mu.RLock()
	pw := cam.adminPassword
	cam.mu.RUnlock()
	request := map[string]interface{}{"type": "audit_query", "options": opts}
	if pw != "" {
		request["password"] = pw
	}
	if err := json.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var response struct {
		Success bool    `json:"success"`
		Events  []Event `json:"events"`
		Error   string  `json:"error"`
	}
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !response.Success {
		return nil, fmt.Errorf("remote query failed: %s", response.Error)
	}
	return response.Events, nil
}

// ExportLogsAcrossCluster exports audit logs from every cluster node.
func (cam *ClusterAuditManager) ExportLogsAcrossCluster(filename string, format ExportFormat, opts QueryOptions) error {
	all, err := cam.QueryLogsAcrossCluster(opts)
	if err != nil {
		return err
	}
	return cam.local.ExportEvents(filename, format, all)
}

// GetClusterStatistics reports this node's ID, its local event count and
// the number of known peers; it does not query the peers' counts. Useful
// for a fixctl "audit status" command.
func (cam *ClusterAuditManager) GetClusterStatistics() (map[string]interface{}, error) {
	localLogs, err := cam.local.QueryLogs(QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("query local logs: %w", err)
	}

	cam.mu.RLock()
	peerCount := len(cam.peers)
	cam.mu.RUnlock()

	return map[string]interface{}{
		"node_id":          cam.nodeID,
		"local_event_count": len(localLogs),
		"peer_count":       peerCount,
	}, nil
}

// IsClusterMode returns whether this manager has any known peers.
func (cam *ClusterAuditManager) IsClusterMode() bool {
	cam.mu.RLock()
	defer cam.mu.RUnlock()
	return len(cam.peers) > 0
}

// GetLocalManager returns the node-local manager for standalone use.
func (cam *ClusterAuditManager) GetLocalManager() *Manager { return cam.local }

// Stop stops the underlying local manager.
func (cam *ClusterAuditManager) Stop() { cam.local.Stop() }
