package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatcore/pkg/events"
	"chatcore/pkg/lifecycle"
	"chatcore/pkg/logger"
	"chatcore/pkg/models"
	"chatcore/pkg/remote"
	"chatcore/pkg/store"
	"chatcore/pkg/utils"
	"chatcore/pkg/view"
)

const requestTimeout = 15 * time.Second

// startHTTP builds the router, starts the listener and returns a channel
// that receives the terminal server error (if any).
func (a *App) startHTTP(ctx context.Context) <-chan error {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/chats", a.handleListChats).Methods("GET")
	v1.HandleFunc("/chats/{id}/hide", a.handleHideChat).Methods("POST")
	v1.HandleFunc("/chats/{id}/unhide", a.handleUnhideChat).Methods("POST")
	v1.HandleFunc("/counters/{key}/reset", a.handleResetCounter).Methods("POST")
	v1.HandleFunc("/chats/{id}/messages/{mid}/actions", a.handleActions).Methods("GET")
	v1.HandleFunc("/chats/{id}/messages/{mid}/unsend", a.handleUnsend).Methods("POST")
	v1.HandleFunc("/chats/{id}/messages/{mid}/delete", a.handleDeleteForEveryone).Methods("POST")
	v1.HandleFunc("/chats/{id}/messages/{mid}/edit", a.handleEdit).Methods("POST")
	v1.HandleFunc("/chats/{id}/messages/delete-for-me", a.handleDeleteForMe).Methods("POST")
	v1.HandleFunc("/signals", a.handleSignals).Methods("GET")

	a.srv = &http.Server{
		Addr:         a.eff.Config.Addr(),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	return errCh
}

// writeOpError maps lifecycle/remote errors onto HTTP status codes.
func writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrPermissionDenied):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, remote.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, remote.ErrUnavailable):
		utils.JSONError(w, http.StatusServiceUnavailable, "remote unavailable")
	case errors.Is(err, lifecycle.ErrLocalStore):
		utils.JSONError(w, http.StatusInternalServerError, "local store failure")
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !store.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "version": a.version})
}

type chatListEntry struct {
	ChatID            string `json:"chat_id"`
	LastMessageText   string `json:"last_message_text"`
	LastMessageSender string `json:"last_message_sender"`
	LastMessageTS     int64  `json:"last_message_ts"`
	IsGroup           bool   `json:"is_group"`
	Unread            int64  `json:"unread"`
}

// handleListChats returns the cached chat list: every chat with a cached
// summary, minus chats hidden on this device, each with its durable
// unread count.
func (a *App) handleListChats(w http.ResponseWriter, r *http.Request) {
	keys, err := store.ListKeys(store.PrefixSummary)
	if err != nil {
		writeOpError(w, err)
		return
	}
	hidden, err := store.ListHiddenChats()
	if err != nil {
		writeOpError(w, err)
		return
	}

	out := make([]chatListEntry, 0, len(keys))
	for _, k := range keys {
		chatID := strings.TrimPrefix(k, store.PrefixSummary)
		if _, ok := hidden[chatID]; ok {
			continue
		}
		raw, err := store.GetSummary(chatID)
		if err != nil {
			continue
		}
		var sum models.ChatSummary
		if err := json.Unmarshal(raw, &sum); err != nil {
			logger.Warn("summary_decode_failed", "chat", chatID, "error", err)
			continue
		}
		key := chatID
		if !sum.IsGroup {
			key = sum.LastMessageSender
		}
		n, err := store.GetCounter(key)
		if err != nil {
			n = 0
		}
		out = append(out, chatListEntry{
			ChatID:            sum.ChatID,
			LastMessageText:   sum.LastMessageText,
			LastMessageSender: sum.LastMessageSender,
			LastMessageTS:     sum.LastMessageTS,
			IsGroup:           sum.IsGroup,
			Unread:            n,
		})
	}
	utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"chats": out})
}

// handleHideChat writes the chat tombstone and arms the restoration
// watch through the pipeline so all watch mutations stay serialized per
// chat.
func (a *App) handleHideChat(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	now := time.Now().UnixNano()
	if err := store.HideChat(chatID, now); err != nil {
		writeOpError(w, err)
		return
	}
	a.enqueue(events.HandlerWatchStart, chatID)
	utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"chat_id": chatID, "hidden_ts": now})
}

func (a *App) handleUnhideChat(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	if err := store.ClearChatTombstone(chatID, time.Now().UnixNano()); err != nil {
		writeOpError(w, err)
		return
	}
	a.enqueue(events.HandlerTombstoneCleared, chatID)
	utils.JSONWrite(w, http.StatusOK, map[string]string{"chat_id": chatID, "status": "restored"})
}

func (a *App) handleResetCounter(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := store.ResetCounter(key); err != nil {
		writeOpError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"key": key, "status": "reset"})
}

type actionsResponse struct {
	Actions         view.Actions   `json:"actions"`
	Visible         models.Content `json:"visible"`
	RecallCountdown string         `json:"recall_countdown,omitempty"`
}

// handleActions answers "what may this actor do to this message right
// now"; the UI renders its context menu directly from it.
func (a *App) handleActions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chatID, msgID := vars["id"], vars["mid"]
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		actor = a.eff.Config.Identity.UserID
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msg, err := a.rstore.GetMessage(ctx, chatID, msgID)
	if err != nil {
		writeOpError(w, err)
		return
	}
	role, err := a.roleFor(ctx, chatID, actor)
	if err != nil {
		writeOpError(w, err)
		return
	}

	acts, err := view.AvailableActions(a.pol, msg, actor, role)
	if err != nil {
		writeOpError(w, err)
		return
	}
	resp := actionsResponse{Actions: acts, Visible: view.VisibleState(msg)}
	if acts.DeleteForEveryone {
		resp.RecallCountdown = view.RecallCountdownText(a.pol, msg)
	}
	utils.JSONWrite(w, http.StatusOK, resp)
}

func (a *App) handleUnsend(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chatID, msgID := vars["id"], vars["mid"]
	actor := a.actor(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msg, err := a.rstore.GetMessage(ctx, chatID, msgID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			// already gone remotely; treat as success
			utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "unsent"})
			return
		}
		writeOpError(w, err)
		return
	}
	if err := a.life.Unsend(ctx, msg, actor); err != nil {
		writeOpError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "unsent"})
}

func (a *App) handleDeleteForEveryone(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chatID, msgID := vars["id"], vars["mid"]
	actor := a.actor(r)

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msg, err := a.rstore.GetMessage(ctx, chatID, msgID)
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted"})
			return
		}
		writeOpError(w, err)
		return
	}
	role, err := a.roleFor(ctx, chatID, actor)
	if err != nil {
		writeOpError(w, err)
		return
	}
	if err := a.life.DeleteForEveryone(ctx, msg, actor, role); err != nil {
		writeOpError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status":  "deleted",
		"visible": view.VisibleState(msg),
	})
}

type editRequest struct {
	Text    string `json:"text"`
	Caption string `json:"caption"`
}

func (a *App) handleEdit(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	chatID, msgID := vars["id"], vars["mid"]
	actor := a.actor(r)

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	msg, err := a.rstore.GetMessage(ctx, chatID, msgID)
	if err != nil {
		writeOpError(w, err)
		return
	}

	next := msg.Content
	switch next.Kind {
	case models.ContentText:
		if req.Text == "" {
			utils.JSONError(w, http.StatusBadRequest, "text required")
			return
		}
		next.Text = req.Text
	case models.ContentImage, models.ContentAlbum:
		// media edits touch the caption only
		next.Caption = req.Caption
	}

	if err := a.life.Edit(ctx, msg, actor, next); err != nil {
		writeOpError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"status": "edited", "message": msg})
}

type deleteForMeRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// handleDeleteForMe hides one or more messages on this device only. The
// batch commits atomically.
func (a *App) handleDeleteForMe(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]

	var req deleteForMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.MessageIDs) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "message_ids required")
		return
	}

	var err error
	if len(req.MessageIDs) == 1 {
		err = a.life.DeleteForMe(chatID, req.MessageIDs[0])
	} else {
		err = a.life.DeleteForMeBatch(chatID, req.MessageIDs)
	}
	if err != nil {
		writeOpError(w, err)
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]interface{}{
		"status": "hidden",
		"count":  len(req.MessageIDs),
	})
}

// handleSignals long-polls the signal hub. The UI passes the last seq it
// has seen and blocks until something newer arrives or the poll times
// out.
func (a *App) handleSignals(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			utils.JSONError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 25*time.Second)
	defer cancel()

	sigs := a.hub.Wait(ctx, since)
	utils.JSONWrite(w, http.StatusOK, map[string]interface{}{"signals": sigs})
}

func (a *App) actor(r *http.Request) string {
	if actor := r.URL.Query().Get("actor"); actor != "" {
		return actor
	}
	return a.eff.Config.Identity.UserID
}

func (a *App) roleFor(ctx context.Context, chatID, actor string) (models.Role, error) {
	th, err := a.rstore.GetThread(ctx, chatID)
	if err != nil {
		return models.Role{}, err
	}
	return models.Role{IsGroupChat: th.IsGroup, IsGroupAdmin: th.IsAdmin(actor)}, nil
}

func (a *App) enqueue(h events.HandlerID, chatID string) {
	ev := &events.Event{Handler: h, Chat: chatID, TS: time.Now().UnixNano()}
	if err := a.queue.TryEnqueue(ev); err != nil {
		logger.Warn("control_event_dropped", "handler", string(h), "chat", chatID, "error", err)
	}
}
