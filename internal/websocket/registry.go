package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gatekeeper/pkg/types"
)

// Registry owns the set of active sessions: the id → Session record map and
// the id → live handle map, always mutated together under one lock. A
// session record exists if and only if a live handle exists for the same id.
//
// Delivery never happens under the lock: senders snapshot the handle, write
// outside the lock, then reconcile counters and evictions, so one slow
// receiver cannot stall the rest.
type Registry struct {
	mu             sync.RWMutex
	sessions       map[string]*types.Session
	conns          map[string]*Connection
	maxMessageSize int
}

// NewRegistry creates an empty registry with the given per-message byte
// ceiling.
func NewRegistry(maxMessageSize int) *Registry {
	return &Registry{
		sessions:       make(map[string]*types.Session),
		conns:          make(map[string]*Connection),
		maxMessageSize: maxMessageSize,
	}
}

// Register admits a connection, creating the session record and the handle
// entry atomically. A colliding id evicts the previous session: the maps
// swap to the new connection immediately and the displaced handle is closed
// asynchronously with an explicit reason, so no window exists with two live
// handles for one id.
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	clientID := conn.ClientID()
	if !types.IsValidClientID(clientID) {
		return types.ErrInvalidClientID
	}
	now := time.Now()

	r.mu.Lock()
	old, existed := r.conns[clientID]
	r.conns[clientID] = conn
	r.sessions[clientID] = &types.Session{
		ID:           clientID,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.mu.Unlock()

	if existed {
		log.Printf("Client %s reconnected, evicting previous session", clientID)
		go func() {
			if err := old.CloseWithReason(websocket.ClosePolicyViolation, "replaced by new connection"); err != nil {
				log.Printf("Failed to close replaced connection for %s: %v", clientID, err)
			}
		}()
	}

	log.Printf("WebSocket connection established for %s", clientID)
	return nil
}

// Unregister removes a session if conn is still the registered handle for
// the id. Idempotent: a second call, or a call from a connection that has
// already been replaced, is a no-op. Pass the connection the caller owns so
// a stale read loop cannot tear down its replacement.
func (r *Registry) Unregister(clientID string, conn *Connection) {
	r.mu.Lock()
	registered, exists := r.conns[clientID]
	if !exists || (conn != nil && registered != conn) {
		r.mu.Unlock()
		return
	}
	session := r.sessions[clientID]
	delete(r.conns, clientID)
	delete(r.sessions, clientID)
	r.mu.Unlock()

	logClosingSummary(session)
}

// Disconnect forcibly removes and closes a session regardless of which
// handle is registered. Idempotent no-op if the id is absent.
func (r *Registry) Disconnect(clientID string) {
	r.mu.Lock()
	conn, exists := r.conns[clientID]
	var session *types.Session
	if exists {
		session = r.sessions[clientID]
		delete(r.conns, clientID)
		delete(r.sessions, clientID)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	_ = conn.Close()
	logClosingSummary(session)
}

// Send delivers a payload to one session. Oversized payloads are not
// transmitted: the session receives a structured rejection and counters stay
// untouched. A transport failure evicts the session. Returns whether the
// payload was delivered.
func (r *Registry) Send(clientID string, payload []byte) bool {
	ok, err := r.send(clientID, payload)
	if err != nil {
		r.Disconnect(clientID)
	}
	return ok
}

// SendJSON marshals v and delivers it through Send.
func (r *Registry) SendJSON(clientID string, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal message for %s: %v", clientID, err)
		return false
	}
	return r.Send(clientID, data)
}

// send does one delivery attempt. The error return is non-nil only for
// transport failures; policy rejections (unknown id, oversize) return
// (false, nil) and must not evict.
func (r *Registry) send(clientID string, payload []byte) (bool, error) {
	r.mu.RLock()
	conn, exists := r.conns[clientID]
	r.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if len(payload) > r.maxMessageSize {
		log.Printf("Outgoing message too large for %s: %d > %d bytes",
			clientID, len(payload), r.maxMessageSize)
		_ = conn.WriteJSON(types.OversizeError{
			Error:             "Message too large",
			MaxSizeBytes:      r.maxMessageSize,
			ReceivedSizeBytes: len(payload),
		})
		return false, nil
	}

	if err := conn.Write(payload); err != nil {
		log.Printf("Failed to send message to %s: %v", clientID, err)
		return false, err
	}

	r.mu.Lock()
	if session, ok := r.sessions[clientID]; ok {
		session.MessagesSent++
		session.BytesSent += int64(len(payload))
		session.LastActivity = time.Now()
	}
	r.mu.Unlock()

	return true, nil
}

// Broadcast delivers a payload to every session except excludeID. Delivery
// runs against a snapshot of the current handles; a failed delivery marks
// that session for eviction but never aborts the sweep. Failed sessions are
// evicted after all deliveries complete.
func (r *Registry) Broadcast(payload []byte, excludeID string) {
	r.mu.RLock()
	targets := make([]string, 0, len(r.conns))
	for clientID := range r.conns {
		if clientID == excludeID {
			continue
		}
		targets = append(targets, clientID)
	}
	r.mu.RUnlock()

	var failed []string
	for _, clientID := range targets {
		if _, err := r.send(clientID, payload); err != nil {
			log.Printf("Broadcast failed for %s: %v", clientID, err)
			failed = append(failed, clientID)
		}
	}

	for _, clientID := range failed {
		r.Disconnect(clientID)
	}
}

// CloseAll disconnects every session. Called on process shutdown so each
// session exits through the normal disconnect path with its closing summary.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for clientID := range r.conns {
		ids = append(ids, clientID)
	}
	r.mu.RUnlock()

	for _, clientID := range ids {
		r.Disconnect(clientID)
	}
}

// RecordReceive updates the receive counters after an inbound message has
// passed the size and admission checks.
func (r *Registry) RecordReceive(clientID string, byteCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[clientID]; ok {
		session.MessagesReceived++
		session.BytesReceived += int64(byteCount)
		session.LastActivity = time.Now()
	}
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Snapshot returns a read-only view of all active sessions for the stats
// endpoint.
func (r *Registry) Snapshot() types.RegistrySnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	snapshot := types.RegistrySnapshot{
		TotalConnections: len(r.sessions),
		Connections:      make(map[string]types.SessionStats, len(r.sessions)),
	}

	for clientID, session := range r.sessions {
		snapshot.Connections[clientID] = types.SessionStats{
			ConnectedAt:       session.ConnectedAt,
			ConnectedDuration: now.Sub(session.ConnectedAt).Seconds(),
			LastActivity:      session.LastActivity,
			MessagesSent:      session.MessagesSent,
			MessagesReceived:  session.MessagesReceived,
			BytesSent:         session.BytesSent,
			BytesReceived:     session.BytesReceived,
		}
	}

	return snapshot
}

func logClosingSummary(session *types.Session) {
	if session == nil {
		return
	}
	duration := time.Since(session.ConnectedAt)
	log.Printf("WebSocket disconnected for %s. Duration: %.2fs, Messages: %d/%d, Bytes: %d/%d",
		session.ID, duration.Seconds(),
		session.MessagesReceived, session.MessagesSent,
		session.BytesReceived, session.BytesSent)
}
