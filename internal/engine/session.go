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

package engine

import (
	"fixgate/internal/consensus"
	"fixgate/internal/logging"
)

// LoggingSessionHandler is the SessionHandler a ClusterAgent's Follower
// invokes for every accepted fragment. The FIX session state machine
// (logon/logout/resend) is the library's responsibility; the engine only
// needs to know a fragment was accepted so it can surface replication
// progress to operators. Archival happens separately, in the Follower,
// immediately after this call returns.
type LoggingSessionHandler struct {
	log *logging.Logger
}

// NewLoggingSessionHandler returns a SessionHandler that logs at debug
// level, to avoid flooding operational logs under normal replication load.
func NewLoggingSessionHandler(log *logging.Logger) *LoggingSessionHandler {
	return &LoggingSessionHandler{log: log}
}

func (h *LoggingSessionHandler) OnData(data []byte, endPosition consensus.Position) {
	h.log.Debug("fragment accepted", logging.Fields{"bytes": len(data), "end_position": int64(endPosition)})
}
