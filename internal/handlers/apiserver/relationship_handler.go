package apiserver

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"friends-go/internal/middleware"
	"friends-go/internal/models"
	"friends-go/internal/services"
)

// uuidPattern constrains path variables so fixed segments like /count never match an id route.
const uuidPattern = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

// MessageResponse is the body of operations that only confirm success.
type MessageResponse struct {
	Message string `json:"message"`
}

// RelationshipHandler serves /api/v1/friends.
type RelationshipHandler struct {
	service services.RelationshipService
	logger  *zap.Logger
}

// NewRelationshipHandler creates a new RelationshipHandler.
func NewRelationshipHandler(service services.RelationshipService, logger *zap.Logger) *RelationshipHandler {
	return &RelationshipHandler{service: service, logger: logger.Named("relationship-handler")}
}

// RegisterRoutes mounts every friends route on r. Fixed paths are registered before id paths.
func (h *RelationshipHandler) RegisterRoutes(r *mux.Router) {
	id := func(name string) string { return "{" + name + ":" + uuidPattern + "}" }

	r.HandleFunc("", h.ListFriends).Methods(http.MethodGet)
	r.HandleFunc("/count", h.GetFriendCount).Methods(http.MethodGet)
	r.HandleFunc("/recommendations", h.GetRecommendations).Methods(http.MethodGet)
	r.HandleFunc("/friendId", h.GetMyFriendIDs).Methods(http.MethodGet)
	r.HandleFunc("/friendId/post/"+id("userId"), h.GetFriendIDsOfUser).Methods(http.MethodGet)
	r.HandleFunc("/blockFriendId", h.GetBlockedUserIDs).Methods(http.MethodGet)
	r.HandleFunc("/requests/incoming", h.ListIncomingRequests).Methods(http.MethodGet)
	r.HandleFunc("/requests/"+id("requestId")+"/decline", h.DeclineFriendRequest).Methods(http.MethodPut)
	r.HandleFunc("/block/"+id("userId"), h.BlockUser).Methods(http.MethodPut)
	r.HandleFunc("/unblock/"+id("userId"), h.UnblockUser).Methods(http.MethodPut)
	r.HandleFunc("/subscribe/"+id("userId"), h.SubscribeToUser).Methods(http.MethodPost)
	r.HandleFunc("/"+id("targetUserId")+"/request", h.SendFriendRequest).Methods(http.MethodPost)
	r.HandleFunc("/"+id("requestId")+"/approve", h.AcceptFriendRequest).Methods(http.MethodPut)
	r.HandleFunc("/"+id("userId")+"/status", h.GetRelationshipStatus).Methods(http.MethodGet)
	r.HandleFunc("/"+id("friendId"), h.DeleteFriendship).Methods(http.MethodDelete)
}

// SendFriendRequest handles POST /api/v1/friends/{targetUserId}/request
func (h *RelationshipHandler) SendFriendRequest(w http.ResponseWriter, r *http.Request) {
	callerID, targetID, ok := h.callerAndPathID(w, r, "targetUserId")
	if !ok {
		return
	}
	rel, err := h.service.SendFriendRequest(r.Context(), callerID, targetID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, rel)
}

// AcceptFriendRequest handles PUT /api/v1/friends/{requestId}/approve
func (h *RelationshipHandler) AcceptFriendRequest(w http.ResponseWriter, r *http.Request) {
	callerID, requestID, ok := h.callerAndPathID(w, r, "requestId")
	if !ok {
		return
	}
	rel, err := h.service.AcceptFriendRequest(r.Context(), requestID, callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, rel)
}

// DeclineFriendRequest handles PUT /api/v1/friends/requests/{requestId}/decline
func (h *RelationshipHandler) DeclineFriendRequest(w http.ResponseWriter, r *http.Request) {
	callerID, requestID, ok := h.callerAndPathID(w, r, "requestId")
	if !ok {
		return
	}
	if _, err := h.service.DeclineFriendRequest(r.Context(), requestID, callerID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "Friend request declined"})
}

// ListIncomingRequests handles GET /api/v1/friends/requests/incoming
func (h *RelationshipHandler) ListIncomingRequests(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	page, ok := parsePageRequest(w, r)
	if !ok {
		return
	}
	result, err := h.service.ListIncomingRequests(r.Context(), callerID, page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// ListFriends handles GET /api/v1/friends
func (h *RelationshipHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	page, ok := parsePageRequest(w, r)
	if !ok {
		return
	}
	result, err := h.service.ListFriends(r.Context(), callerID, page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// DeleteFriendship handles DELETE /api/v1/friends/{friendId}
func (h *RelationshipHandler) DeleteFriendship(w http.ResponseWriter, r *http.Request) {
	callerID, friendID, ok := h.callerAndPathID(w, r, "friendId")
	if !ok {
		return
	}
	if err := h.service.DeleteFriendship(r.Context(), callerID, friendID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFriendCount handles GET /api/v1/friends/count
func (h *RelationshipHandler) GetFriendCount(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	count, err := h.service.GetFriendCount(r.Context(), callerID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.FriendCount{Count: count})
}

// GetRelationshipStatus handles GET /api/v1/friends/{userId}/status
func (h *RelationshipHandler) GetRelationshipStatus(w http.ResponseWriter, r *http.Request) {
	callerID, otherID, ok := h.callerAndPathID(w, r, "userId")
	if !ok {
		return
	}
	status, err := h.service.GetRelationshipStatus(r.Context(), callerID, otherID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, status)
}

// GetRecommendations handles GET /api/v1/friends/recommendations. 推荐功能未实现，始终返回空页。
func (h *RelationshipHandler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	page, ok := parsePageRequest(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.NewPage[models.FriendDTO](nil, page, 0))
}

// BlockUser handles PUT /api/v1/friends/block/{userId}
func (h *RelationshipHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	callerID, targetID, ok := h.callerAndPathID(w, r, "userId")
	if !ok {
		return
	}
	if _, err := h.service.BlockUser(r.Context(), callerID, targetID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "User blocked successfully"})
}

// UnblockUser handles PUT /api/v1/friends/unblock/{userId}
func (h *RelationshipHandler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	callerID, targetID, ok := h.callerAndPathID(w, r, "userId")
	if !ok {
		return
	}
	if err := h.service.UnblockUser(r.Context(), callerID, targetID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "User unblocked successfully"})
}

// SubscribeToUser handles POST /api/v1/friends/subscribe/{userId}
func (h *RelationshipHandler) SubscribeToUser(w http.ResponseWriter, r *http.Request) {
	callerID, targetID, ok := h.callerAndPathID(w, r, "userId")
	if !ok {
		return
	}
	if _, err := h.service.SubscribeToUser(r.Context(), callerID, targetID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "Subscribed successfully"})
}

// GetMyFriendIDs handles GET /api/v1/friends/friendId
func (h *RelationshipHandler) GetMyFriendIDs(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.writeIDs(w, r, callerID, h.service.GetFriendIDs)
}

// GetFriendIDsOfUser handles GET /api/v1/friends/friendId/post/{userId}
func (h *RelationshipHandler) GetFriendIDsOfUser(w http.ResponseWriter, r *http.Request) {
	_, userID, ok := h.callerAndPathID(w, r, "userId")
	if !ok {
		return
	}
	h.writeIDs(w, r, userID, h.service.GetFriendIDs)
}

// GetBlockedUserIDs handles GET /api/v1/friends/blockFriendId
func (h *RelationshipHandler) GetBlockedUserIDs(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	h.writeIDs(w, r, callerID, h.service.GetBlockedUserIDs)
}

func (h *RelationshipHandler) writeIDs(w http.ResponseWriter, r *http.Request, userID uuid.UUID,
	fetch func(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)) {
	ids, err := fetch(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	writeJSONResponse(w, http.StatusOK, ids)
}

func (h *RelationshipHandler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	callerID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, r, "无法从上下文中获取用户ID", http.StatusUnauthorized)
	}
	return callerID, ok
}

func (h *RelationshipHandler) callerAndPathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, uuid.UUID, bool) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeJSONError(w, r, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return callerID, id, true
}

func parsePageRequest(w http.ResponseWriter, r *http.Request) (models.PageRequest, bool) {
	var req models.PageRequest
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
		max  int
	}{{"page", &req.Page, models.MaxPage}, {"size", &req.Size, math.MaxInt32}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > p.max {
			writeJSONError(w, r, "invalid "+p.name+" parameter", http.StatusBadRequest)
			return req, false
		}
		*p.dst = n
	}
	return req.Normalize(), true
}
