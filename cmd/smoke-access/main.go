package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"
)

// smoke-access drives the full coverage/grant/release path against a running
// server, including the Redis-backed coverage cache when one is configured on
// the server side.
func main() {
	base := os.Getenv("DEALGATE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	run := rand.Int()

	token := obtainToken(client, base)
	auth := "Bearer " + token

	org := post(client, base+"/v1/organizations", auth, map[string]any{
		"name":           fmt.Sprintf("Smoke Holdings %d", run),
		"primary_domain": fmt.Sprintf("smoke-%d.example", run),
	}, http.StatusCreated)
	orgID := org["id"].(string)
	domain := org["primary_domain"].(string)

	transition := base + "/v1/organizations/" + orgID + "/agreements/nda/transition"
	post(client, transition, auth, map[string]any{"to": "sent"}, http.StatusOK)
	post(client, transition, auth, map[string]any{
		"to":             "signed",
		"signed_by_name": "Smoke Signer",
	}, http.StatusOK)

	// Resolve twice: the second call exercises the cache hit path when the
	// server runs with Redis.
	email := "buyer@" + domain
	for i := 0; i < 2; i++ {
		coverage := post(client, base+"/v1/coverage/resolve", auth, map[string]any{
			"email": email,
		}, http.StatusOK)
		nda := coverage["nda"].(map[string]any)
		if nda["covered"] != true {
			log.Fatalf("expected nda coverage for %s, got %v", email, nda)
		}
	}

	deal := post(client, base+"/v1/deals", auth, map[string]any{
		"name": fmt.Sprintf("Smoke Deal %d", run),
	}, http.StatusCreated)
	dealID := deal["id"].(string)

	contactID := fmt.Sprintf("smoke-contact-%d", run)
	post(client, base+"/v1/identities", auth, map[string]any{
		"identity": map[string]any{"contact_id": contactID},
		"email":    email,
	}, http.StatusOK)

	post(client, base+"/v1/deals/"+dealID+"/grants", auth, map[string]any{
		"identity":     map[string]any{"contact_id": contactID},
		"capabilities": map[string]any{"teaser": true},
	}, http.StatusCreated)

	doc := post(client, base+"/v1/deals/"+dealID+"/documents", auth, map[string]any{
		"name":     "Smoke teaser",
		"category": "pre_disclosure_teaser",
	}, http.StatusCreated)

	link := post(client, base+"/v1/links", auth, map[string]any{
		"document_id": doc["id"].(string),
		"identity":    map[string]any{"contact_id": contactID},
	}, http.StatusCreated)

	resolution := get(client, base+"/l/"+link["token"].(string), http.StatusOK)
	if resolution["available"] != true {
		log.Fatalf("tracked link did not resolve: %v", resolution)
	}

	// A transition to expired must invalidate cached coverage.
	post(client, transition, auth, map[string]any{"to": "expired"}, http.StatusOK)
	coverage := post(client, base+"/v1/coverage/resolve", auth, map[string]any{
		"email": email,
	}, http.StatusOK)
	nda := coverage["nda"].(map[string]any)
	if nda["covered"] == true {
		log.Fatalf("coverage survived expiration: %v", nda)
	}

	fmt.Printf("✅ access smoke test passed: org=%s deal=%s\n", orgID, dealID)
}

func obtainToken(client *http.Client, base string) string {
	payload := post(client, base+"/v1/auth/token", "", map[string]any{
		"user":  "smoke",
		"roles": []string{"admin"},
	}, http.StatusOK)
	token, _ := payload["token"].(string)
	if token == "" {
		log.Fatal("no token issued")
	}
	return token
}

func post(client *http.Client, url, auth string, body any, want int) map[string]any {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal %s: %v", url, err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return do(client, req, want)
}

func get(client *http.Client, url string, want int) map[string]any {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("request %s: %v", url, err)
	}
	return do(client, req, want)
}

func do(client *http.Client, req *http.Request, want int) map[string]any {
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d", req.Method, req.URL, resp.StatusCode, want)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s: %v", req.URL, err)
	}
	return out
}
