package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/reelchat/call-service/internal/domain"
	"github.com/reelchat/call-service/internal/media"
	"github.com/reelchat/call-service/internal/orchestrator"
)

// CallHandler exposes the call lifecycle and in-call controls over HTTP.
type CallHandler struct {
	hub *Hub
}

// NewCallHandler creates a call handler over the orchestrator hub.
func NewCallHandler(hub *Hub) *CallHandler {
	return &CallHandler{hub: hub}
}

// SetupCallRoutes registers all call routes on an authenticated subrouter.
func (h *CallHandler) SetupCallRoutes(router *mux.Router) {
	router.HandleFunc("/calls", h.StartCall).Methods("POST")
	router.HandleFunc("/calls/answer", h.AnswerCall).Methods("POST")
	router.HandleFunc("/calls/decline", h.DeclineCall).Methods("POST")
	router.HandleFunc("/calls/end", h.EndCall).Methods("POST")
	router.HandleFunc("/calls/state", h.GetState).Methods("GET")

	router.HandleFunc("/calls/audio/toggle", h.ToggleAudio).Methods("POST")
	router.HandleFunc("/calls/video/toggle", h.ToggleVideo).Methods("POST")
	router.HandleFunc("/calls/screen-share/toggle", h.ToggleScreenShare).Methods("POST")
	router.HandleFunc("/calls/recording/toggle", h.ToggleRecording).Methods("POST")

	router.HandleFunc("/calls/devices", h.RefreshDevices).Methods("GET")
	router.HandleFunc("/calls/devices/camera", h.SwitchCamera).Methods("POST")
	router.HandleFunc("/calls/devices/microphone", h.SwitchMicrophone).Methods("POST")
	router.HandleFunc("/calls/devices/speaker", h.SelectSpeaker).Methods("POST")
	router.HandleFunc("/calls/volume", h.SetVolume).Methods("POST")

	router.HandleFunc("/calls/messages", h.SendMessage).Methods("POST")
	router.HandleFunc("/calls/{id}/messages", h.MessageHistory).Methods("GET")
}

// StartCallRequest is the request to place an outgoing call.
type StartCallRequest struct {
	ConversationID string          `json:"conversation_id"`
	CalleeID       string          `json:"callee_id"`
	CallType       domain.CallType `json:"call_type"`
}

func (h *CallHandler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req StartCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CalleeID == "" {
		writeError(w, http.StatusBadRequest, "callee_id is required")
		return
	}
	if req.CallType != domain.CallTypeAudio && req.CallType != domain.CallTypeVideo {
		writeError(w, http.StatusBadRequest, "call_type must be audio or video")
		return
	}

	orch := h.hub.Orchestrator(UserID(r.Context()))
	active, err := orch.StartCall(r.Context(), req.ConversationID, req.CalleeID, req.CallType)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, callView(active))
}

func (h *CallHandler) AnswerCall(w http.ResponseWriter, r *http.Request) {
	orch := h.hub.Orchestrator(UserID(r.Context()))
	active, err := orch.AnswerCall(r.Context())
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callView(active))
}

func (h *CallHandler) DeclineCall(w http.ResponseWriter, r *http.Request) {
	orch := h.hub.Orchestrator(UserID(r.Context()))
	if err := orch.DeclineCall(r.Context()); err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}

func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	orch := h.hub.Orchestrator(UserID(r.Context()))
	if err := orch.EndCall(r.Context()); err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// CallStateResponse bundles the active call and any pending ring.
type CallStateResponse struct {
	Active   *ActiveCallView   `json:"active"`
	Incoming *IncomingCallView `json:"incoming"`
}

func (h *CallHandler) GetState(w http.ResponseWriter, r *http.Request) {
	orch := h.hub.Orchestrator(UserID(r.Context()))
	writeJSON(w, http.StatusOK, CallStateResponse{
		Active:   callView(orch.Snapshot()),
		Incoming: incomingView(orch.IncomingRing()),
	})
}

func (h *CallHandler) ToggleAudio(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, func(o *orchestrator.Orchestrator) (*orchestrator.ActiveCall, error) {
		return o.ToggleAudio()
	})
}

func (h *CallHandler) ToggleVideo(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, func(o *orchestrator.Orchestrator) (*orchestrator.ActiveCall, error) {
		return o.ToggleVideo()
	})
}

func (h *CallHandler) ToggleScreenShare(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, func(o *orchestrator.Orchestrator) (*orchestrator.ActiveCall, error) {
		return o.ToggleScreenShare(r.Context())
	})
}

func (h *CallHandler) ToggleRecording(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, func(o *orchestrator.Orchestrator) (*orchestrator.ActiveCall, error) {
		return o.ToggleRecording(r.Context())
	})
}

func (h *CallHandler) toggle(w http.ResponseWriter, r *http.Request, op func(*orchestrator.Orchestrator) (*orchestrator.ActiveCall, error)) {
	orch := h.hub.Orchestrator(UserID(r.Context()))
	active, err := op(orch)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callView(active))
}

// DeviceRequest names a device for switch/select operations.
type DeviceRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *CallHandler) SwitchCamera(w http.ResponseWriter, r *http.Request) {
	h.switchDevice(w, r, media.DeviceKindCamera)
}

func (h *CallHandler) SwitchMicrophone(w http.ResponseWriter, r *http.Request) {
	h.switchDevice(w, r, media.DeviceKindMicrophone)
}

func (h *CallHandler) switchDevice(w http.ResponseWriter, r *http.Request, kind media.DeviceKind) {
	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	orch := h.hub.Orchestrator(UserID(r.Context()))
	var (
		active *orchestrator.ActiveCall
		err    error
	)
	if kind == media.DeviceKindCamera {
		active, err = orch.SwitchCamera(r.Context(), req.DeviceID)
	} else {
		active, err = orch.SwitchMicrophone(r.Context(), req.DeviceID)
	}
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callView(active))
}

func (h *CallHandler) SelectSpeaker(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	orch := h.hub.Orchestrator(UserID(r.Context()))
	active, err := orch.SelectSpeaker(req.DeviceID)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callView(active))
}

// VolumeRequest adjusts local or remote playback volume.
type VolumeRequest struct {
	Remote bool `json:"remote"`
	Volume int  `json:"volume"`
}

func (h *CallHandler) SetVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	orch := h.hub.Orchestrator(UserID(r.Context()))
	active, err := orch.SetVolume(req.Remote, req.Volume)
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callView(active))
}

func (h *CallHandler) RefreshDevices(w http.ResponseWriter, r *http.Request) {
	orch := h.hub.Orchestrator(UserID(r.Context()))
	active, err := orch.RefreshDevices(r.Context())
	if err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, callView(active).Devices)
}

// MessageRequest is an in-call chat message.
type MessageRequest struct {
	Content string `json:"content"`
}

func (h *CallHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	orch := h.hub.Orchestrator(UserID(r.Context()))
	if err := orch.SendMessage(r.Context(), req.Content); err != nil {
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *CallHandler) MessageHistory(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["id"]
	orch := h.hub.Orchestrator(UserID(r.Context()))
	messages, err := orch.MessageHistory(r.Context(), callID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// writeCallError maps orchestrator errors onto HTTP statuses.
func writeCallError(w http.ResponseWriter, err error) {
	var accessErr *media.AccessError
	var switchErr *orchestrator.DeviceSwitchError
	switch {
	case errors.Is(err, orchestrator.ErrCallInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNoActiveCall), errors.Is(err, orchestrator.ErrNoIncomingCall):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &accessErr):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &switchErr):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
