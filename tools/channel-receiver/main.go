// channel-receiver is a local stand-in for the outreach, prep, and notify
// collaborators. It records every action the dispatcher posts, verifies the
// HMAC signature when SECRET is set, and exposes the recorded payloads for
// inspection.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type action struct {
	Timestamp     string `json:"timestamp"`
	Kind          string `json:"kind"`
	ApplicationID string `json:"application_id"`
	Epoch         string `json:"epoch"`
	DueAt         string `json:"due_at"`
	SignatureOK   *bool  `json:"signature_ok,omitempty"`
}

type stats struct {
	Count       int64    `json:"count"`
	LastActions []action `json:"last_actions"`
	Since       string   `json:"since"`
}

var (
	mu          sync.Mutex
	count       int64
	lastActions []action
	since       time.Time
	maxStored   = 50
	secret      string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")

	addr := ":9100"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/outreach", actionHandler)
	http.HandleFunc("/prep", actionHandler)
	http.HandleFunc("/notify", actionHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastActions = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("channel-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func actionHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	var payload struct {
		ApplicationID string `json:"application_id"`
		Kind          string `json:"kind"`
		Epoch         string `json:"epoch"`
		DueAt         string `json:"due_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, "invalid json")
		return
	}

	rec := action{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Kind:          payload.Kind,
		ApplicationID: payload.ApplicationID,
		Epoch:         payload.Epoch,
		DueAt:         payload.DueAt,
	}

	if secret != "" {
		ok := verifySignature(secret, body, r.Header.Get("X-Emplaiyed-Signature"))
		rec.SignatureOK = &ok
		if !ok {
			log.Printf("%s: BAD SIGNATURE for %s", r.URL.Path, payload.ApplicationID)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, "bad signature")
			return
		}
	}

	mu.Lock()
	count++
	lastActions = append(lastActions, rec)
	if len(lastActions) > maxStored {
		lastActions = lastActions[len(lastActions)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("%s #%d: %s %s epoch=%s", r.URL.Path, current, payload.Kind, payload.ApplicationID, payload.Epoch)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:       count,
		LastActions: lastActions,
		Since:       since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
