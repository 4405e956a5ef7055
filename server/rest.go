package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// ControlServer serves the registry REST API and the relay's websocket endpoints
type ControlServer struct {
	registry *Registry
	gate     *AuthGate
	relay    *Relay
	validate *validator.Validate
}

// NewControlServer wires the registry, auth gate and relay together from the configuration
func NewControlServer(config *Config, registry *Registry) (*ControlServer, error) {
	gate, err := NewAuthGate([]byte(config.Server.Secret), config.Server.MinVersion)
	if err != nil {
		return nil, err
	}

	return &ControlServer{
		registry: registry,
		gate:     gate,
		relay:    NewRelay(registry, config.Server.BackendURL, config.RateLimit(), config.Relay.HandshakeTimeout),
		validate: validator.New(),
	}, nil
}

// Router builds the routes. /info and the websocket paths are open, everything under /api goes through the Auth Gate.
func (server *ControlServer) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/info", server.handleInfo).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(server.gate.Middleware)
	api.HandleFunc("/rooms", server.handleListRooms).Methods("GET")
	api.HandleFunc("/rooms", server.handleCreateRoom).Methods("POST")
	api.HandleFunc("/rooms/{id}", server.handleGetRoom).Methods("GET")
	api.HandleFunc("/rooms/{id}", server.handleDeleteRoom).Methods("DELETE")

	router.HandleFunc("/connect", server.relay.HandleHost).Methods("GET")
	router.HandleFunc("/{room_id}", server.relay.HandleClient).Methods("GET")
	return router
}

// Relay returns the relay serving the websocket endpoints
func (server *ControlServer) Relay() *Relay {
	return server.relay
}

// StartControlServer begins handling HTTP requests for the REST API and the relay, called by main function.
// It returns once ctx is cancelled and every relay session has been closed.
func StartControlServer(ctx context.Context, config *Config, registry *Registry) error {
	log.Info("Starting REST API HTTP Server...")

	server, err := NewControlServer(config, registry)
	if err != nil {
		log.WithError(err).Error("Failed to set up the control server")
		return err
	}

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(config.Server.Port),
		Handler: server.Router(),
	}
	log.WithField("port", config.Server.Port).Info("Listening")

	return serveUntilDone(ctx, httpServer, server.relay.Shutdown)
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).Error("Failed to encode response json")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// Returns server information such as the software version, REST API version and number of rooms
func (server *ControlServer) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, common.InfoResponse{
		Software: common.SoftwareName,
		Version:  common.SoftwareVersion,
		API:      common.APIVersion,
		Rooms:    server.registry.RoomCount(),
	})
}

// Lists every open or full room
// HTTP Responses:
//   - 200 OK: JSON array of RoomInfo
func (server *ControlServer) handleListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, server.registry.ListRooms())
}

// Returns a single room
// HTTP Responses:
//   - 404 Not Found: No room with that id
//   - 200 OK: RoomInfo
func (server *ControlServer) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := server.registry.GetRoom(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Called by a host to register a room before connecting to the relay with the returned token
// HTTP Responses:
//   - 400 Bad Request: Body isn't valid JSON, or room_id/name is empty, or max_players is 0
//   - 409 Conflict: A room with that id already exists
//   - 500 Internal Server Error: Failed to sign the token
//   - 201 Created: Room registered, returns CreateRoomResponse
func (server *ControlServer) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var request common.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := server.validate.Struct(request); err != nil {
		http.Error(w, "Invalid room: "+err.Error(), http.StatusBadRequest)
		return
	}

	token, err := server.registry.RegisterRoom(request)
	if err != nil {
		if errors.Is(err, ErrRoomAlreadyExists) {
			http.Error(w, "Room already exists", http.StatusConflict)
			return
		}
		log.WithField("room", request.RoomID).WithError(err).Error("Failed to register room")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, common.CreateRoomResponse{Token: token})
}

// Called by a host to delete its room
// HTTP Responses:
//   - 403 Forbidden: The token query parameter doesn't belong to the room
//   - 204 No content: Room deleted
func (server *ControlServer) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	token := r.URL.Query().Get("token")

	if err := server.registry.DeleteRoom(roomID, token); err != nil {
		http.Error(w, "Invalid token", http.StatusForbidden)
		return
	}

	server.relay.closeRoom(roomID)
	w.WriteHeader(http.StatusNoContent)
}
