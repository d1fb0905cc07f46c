package pinkit

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/pinkit/pins"
)

const httpTimeoutsMs = 3000
const tokenHeader = "X-Pinkit-Token"
const dnssdServiceType = "_pinkit-io._tcp"

type pinStatus struct {
	Pin       uint8   `json:"pin"`
	Function  string  `json:"function"`
	State     float64 `json:"state"`
	Pull      string  `json:"pull"`
	Frequency int     `json:"frequency"`
}

// StartHttpServer exposes the reserved pins over a small JSON API and
// announces it over mDNS. Returns the channel delivering the server error
// on exit.
func (pk *PinKit) StartHttpServer(ctx context.Context) (<-chan error, error) {
	if len(pk.HttpAddr) == 0 {
		return nil, errors.New("http address not set")
	}

	httpTimeout := httpTimeoutsMs * time.Millisecond

	server := &http.Server{
		Addr:              pk.HttpAddr,
		Handler:           pk.httpRouter(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	err := pk.announceHttp(ctx)
	if err != nil {
		log.Error("failed to announce http api over mdns", "err", err)
	}

	return serverErr, nil
}

func (pk *PinKit) httpRouter() http.Handler {
	router := httprouter.New()
	router.GET("/io", pk.handleIoStatus)
	router.GET("/io/pin/:number", pk.handlePinStatus)
	router.POST("/io/pin/:number/state/:state", pk.handleSetState)
	return router
}

func (pk *PinKit) checkToken(w http.ResponseWriter, r *http.Request) bool {
	if len(pk.HttpToken) == 0 {
		return true
	}
	if strings.EqualFold(r.Header.Get(tokenHeader), pk.HttpToken) {
		return true
	}

	http.Error(w, "token mismatch", http.StatusUnauthorized)
	return false
}

func (pk *PinKit) reservedPin(number uint8) (pins.Pin, bool) {
	for _, reserved := range pk.factory.ReservedPins() {
		if reserved == number {
			pin, err := pk.factory.Pin(number)
			if err != nil {
				return nil, false
			}
			return pin, true
		}
	}
	return nil, false
}

func statusOfPin(pin pins.Pin) pinStatus {
	return pinStatus{
		Pin:       pin.Number(),
		Function:  pin.Function().String(),
		State:     float64(pin.State()),
		Pull:      pin.Pull().String(),
		Frequency: pin.Frequency(),
	}
}

func (pk *PinKit) handleIoStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if !pk.checkToken(w, r) {
		return
	}

	statuses := []pinStatus{}
	for _, number := range pk.factory.ReservedPins() {
		pin, found := pk.reservedPin(number)
		if found {
			statuses = append(statuses, statusOfPin(pin))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statuses)
}

func (pk *PinKit) handlePinStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !pk.checkToken(w, r) {
		return
	}

	number, err := strconv.ParseUint(p.ByName("number"), 10, 8)
	if err != nil {
		http.Error(w, "bad pin number", http.StatusBadRequest)
		return
	}

	pin, found := pk.reservedPin(uint8(number))
	if !found {
		http.Error(w, "pin not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusOfPin(pin))
}

func (pk *PinKit) handleSetState(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	if !pk.checkToken(w, r) {
		return
	}

	number, err := strconv.ParseUint(p.ByName("number"), 10, 8)
	if err != nil {
		http.Error(w, "bad pin number", http.StatusBadRequest)
		return
	}

	pin, found := pk.reservedPin(uint8(number))
	if !found {
		http.Error(w, "pin not found", http.StatusNotFound)
		return
	}

	state, err := strconv.ParseFloat(p.ByName("state"), 64)
	if err != nil {
		http.Error(w, "bad pin state", http.StatusBadRequest)
		return
	}

	err = pin.SetState(pins.State(state))
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusOfPin(pin))
	case errors.Is(err, pins.ErrSetInput) || errors.Is(err, pins.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (pk *PinKit) announceHttp(ctx context.Context) error {
	_, portRaw, err := net.SplitHostPort(pk.HttpAddr)
	if err != nil {
		return errors.Wrap(err, "failed to split http address")
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil {
		return errors.Wrap(err, "failed to parse http port")
	}

	name := pk.Name
	if len(name) == 0 {
		name = homeKitBridgeName
	}

	service, err := dnssd.NewService(dnssd.Config{
		Name: name,
		Type: dnssdServiceType,
		Port: port,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create dnssd service")
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return errors.Wrap(err, "failed to create dnssd responder")
	}
	_, err = responder.Add(service)
	if err != nil {
		return errors.Wrap(err, "failed to add dnssd service")
	}

	go func() {
		respondErr := responder.Respond(ctx)
		if respondErr != nil && !errors.Is(respondErr, context.Canceled) {
			log.Error("dnssd responder stopped", "err", respondErr)
		}
	}()

	return nil
}
