package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alejzeis/kinetic-relay/common"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
)

// restClient talks to the room registry. Every request carries the Auth Gate headers, computed fresh per request.
type restClient struct {
	rest      *resty.Client
	serverURL string

	version string
	secret  []byte
	now     func() time.Time
}

// statusError is a registry response with an unexpected status code
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("registry responded %d: %s", e.status, e.body)
}

func createRestClient(serverURL string, version string, secret []byte) *restClient {
	client := new(restClient)
	client.serverURL = serverURL
	client.version = version
	client.secret = secret
	client.now = time.Now
	client.rest = resty.New().SetTimeout(10 * time.Second)
	client.rest.OnBeforeRequest(func(_ *resty.Client, request *resty.Request) error {
		request.SetHeaders(common.AuthHeaders(client.version, client.secret, client.now()))
		return nil
	})
	return client
}

func (r *restClient) info() (*common.InfoResponse, error) {
	url := r.serverURL + "/info"
	response, err := r.rest.R().Get(url)
	if err := r.check(url, response, err, http.StatusOK); err != nil {
		return nil, err
	}

	info := new(common.InfoResponse)
	if err := json.Unmarshal(response.Body(), info); err != nil {
		log.WithFields(log.Fields{
			"url":  url,
			"body": response.String(),
		}).WithError(err).Error("Failed to decode JSON response while fetching server info.")
		return nil, err
	}
	return info, nil
}

func (r *restClient) listRooms() ([]common.RoomInfo, error) {
	url := r.serverURL + "/api/rooms"
	response, err := r.rest.R().Get(url)
	if err := r.check(url, response, err, http.StatusOK); err != nil {
		return nil, err
	}

	var rooms []common.RoomInfo
	if err := json.Unmarshal(response.Body(), &rooms); err != nil {
		log.WithFields(log.Fields{
			"url":  url,
			"body": response.String(),
		}).WithError(err).Error("Failed to decode JSON response while listing rooms.")
		return nil, err
	}
	return rooms, nil
}

// createRoom registers a room and returns the token the host connects to the relay with
func (r *restClient) createRoom(request common.CreateRoomRequest) (string, error) {
	url := r.serverURL + "/api/rooms"
	response, err := r.rest.R().SetBody(request).Post(url)
	if err := r.check(url, response, err, http.StatusCreated); err != nil {
		return "", err
	}

	var created common.CreateRoomResponse
	if err := json.Unmarshal(response.Body(), &created); err != nil {
		log.WithFields(log.Fields{
			"url":  url,
			"body": response.String(),
		}).WithError(err).Error("Failed to decode JSON response while creating room.")
		return "", err
	}

	log.WithField("room", request.RoomID).Info("Successfully registered room")
	return created.Token, nil
}

func (r *restClient) deleteRoom(roomID string, token string) error {
	url := r.serverURL + "/api/rooms/" + roomID
	response, err := r.rest.R().SetQueryParam("token", token).Delete(url)
	if err := r.check(url, response, err, http.StatusNoContent); err != nil {
		return err
	}

	log.WithField("room", roomID).Info("Successfully deleted room")
	return nil
}

// check logs and converts transport failures and unexpected statuses
func (r *restClient) check(url string, response *resty.Response, err error, expected int) error {
	if err != nil {
		log.WithField("url", url).WithError(err).Warn("Registry request failed.")
		return err
	}
	if response.StatusCode() != expected {
		log.WithFields(log.Fields{
			"url":    url,
			"status": response.StatusCode(),
			"body":   response.String(),
		}).Warn("Registry request was refused")
		return &statusError{status: response.StatusCode(), body: response.String()}
	}
	return nil
}
