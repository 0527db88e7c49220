package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	tasksync "github.com/mkirch/taskrelay/internal/sync"
	"github.com/mkirch/taskrelay/internal/task"
)

// EventType defines the type of broadcast event.
type EventType string

const (
	// EventTaskCreated indicates a task was created locally.
	EventTaskCreated EventType = "task_created"

	// EventTaskUpdated indicates a task's fields changed.
	EventTaskUpdated EventType = "task_updated"

	// EventTaskDeleted indicates a task was soft-deleted.
	EventTaskDeleted EventType = "task_deleted"

	// EventSyncComplete indicates a synchronization pass finished.
	EventSyncComplete EventType = "sync_complete"
)

// Event represents a broadcast message sent to WebSocket clients.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TaskEventData contains task change information.
type TaskEventData struct {
	TaskID     string `json:"task_id"`
	Title      string `json:"title,omitempty"`
	Completed  bool   `json:"completed"`
	SyncStatus string `json:"sync_status,omitempty"`
}

// SyncEventData contains pass completion information.
type SyncEventData struct {
	Success     bool  `json:"success"`
	SyncedItems int   `json:"synced_items"`
	FailedItems int   `json:"failed_items"`
	DurationMS  int64 `json:"duration_ms"`
}

// Broadcast sends an event to all connected clients.
func (s *Server) Broadcast(evt Event) {
	select {
	case s.broadcast <- evt:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping event")
	}
}

// BroadcastTaskEvent publishes a task change to WebSocket clients.
func (s *Server) BroadcastTaskEvent(evtType EventType, t *task.Task) {
	data, err := json.Marshal(TaskEventData{
		TaskID:     t.ID,
		Title:      t.Title,
		Completed:  t.Completed,
		SyncStatus: string(t.SyncStatus),
	})
	if err != nil {
		s.logger.Printf("Failed to marshal task event: %v", err)
		return
	}
	s.Broadcast(Event{Type: evtType, Timestamp: time.Now(), Data: data})
}

// BroadcastSyncResult publishes a finished pass to WebSocket clients.
func (s *Server) BroadcastSyncResult(res *tasksync.Result) {
	data, err := json.Marshal(SyncEventData{
		Success:     res.Success,
		SyncedItems: res.SyncedItems,
		FailedItems: res.FailedItems,
		DurationMS:  res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	})
	if err != nil {
		s.logger.Printf("Failed to marshal sync event: %v", err)
		return
	}
	s.Broadcast(Event{Type: EventSyncComplete, Timestamp: time.Now(), Data: data})
}

// broadcastLoop handles event delivery to all clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case evt := <-s.broadcast:
			if evt.Timestamp.IsZero() {
				evt.Timestamp = time.Now()
			}

			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send to clients (outside read lock to avoid blocking broadcasts)
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // Allow all origins for development
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed, the read just keeps the
		// connection alive.
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}
