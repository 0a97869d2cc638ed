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

// Package discovery resolves the library-facing RPC addresses of engine
// nodes on startup, so a library's channel list doesn't have to be
// hand-maintained in every deployment. Two lookup strategies are offered:
// mDNS for local-network / developer clusters, and DNS SRV records for
// data-center deployments that already run an internal DNS server. Neither
// strategy participates in Raft cluster membership: the consensus peer set
// stays static and config-supplied.
package discovery

import (
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/miekg/dns"
)

// ServiceName is the mDNS service type engines advertise themselves under.
const ServiceName = "_fixgate._tcp"

// Endpoint is a discovered engine's library-facing RPC address.
type Endpoint struct {
	Name string
	Addr string // host:port
}

func init() {
	// mdns logs benign IPv6 "no such network interface" noise on many hosts
	// through the standard log package's default logger.
	log.SetOutput(io.Discard)
}

// Advertise registers this engine's RPC address for mDNS lookup. The
// returned server must be shut down on process exit.
func Advertise(nodeID, rpcAddress string) (*mdns.Server, error) {
	_, portStr, err := net.SplitHostPort(rpcAddress)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid rpc address %q: %w", rpcAddress, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid rpc port %q: %w", portStr, err)
	}

	service, err := mdns.NewMDNSService(nodeID, ServiceName, "", "", port, nil, []string{"fixgate engine " + nodeID})
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: service})
}

// LookupMDNS scans the local network for engines advertising ServiceName,
// waiting up to timeout for replies.
func LookupMDNS(timeout time.Duration) ([]Endpoint, error) {
	entries := make(chan *mdns.ServiceEntry, 32)
	var found []Endpoint
	done := make(chan struct{})
	go func() {
		for e := range entries {
			found = append(found, Endpoint{Name: e.Name, Addr: net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port))})
		}
		close(done)
	}()

	params := mdns.DefaultParams(ServiceName)
	params.Timeout = timeout
	params.Entries = entries
	err := mdns.Query(params)
	close(entries)
	<-done
	return found, err
}

// LookupSRV resolves engine.service's SRV records against resolverAddr
// (a host:port, e.g. "10.0.0.2:53"), returning endpoints ordered by SRV
// priority then weight as RFC 2782 prescribes. This is the static,
// data-center-friendly alternative to mDNS broadcast discovery.
func LookupSRV(service, resolverAddr string) ([]Endpoint, error) {
	client := new(dns.Client)
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(service), dns.TypeSRV)

	resp, _, err := client.Exchange(msg, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: SRV query for %s: %w", service, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("discovery: SRV query for %s: rcode %s", service, dns.RcodeToString[resp.Rcode])
	}

	var records []*dns.SRV
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	return srvToEndpoints(records), nil
}

// srvToEndpoints orders SRV records by priority then weight, per RFC 2782,
// and converts them to Endpoints with the trailing FQDN dot stripped.
func srvToEndpoints(records []*dns.SRV) []Endpoint {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})

	endpoints := make([]Endpoint, 0, len(records))
	for _, srv := range records {
		host := srv.Target
		if len(host) > 0 && host[len(host)-1] == '.' {
			host = host[:len(host)-1]
		}
		endpoints = append(endpoints, Endpoint{
			Name: srv.Target,
			Addr: net.JoinHostPort(host, strconv.Itoa(int(srv.Port))),
		})
	}
	return endpoints
}
