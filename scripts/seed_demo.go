// seed_demo.go: standalone script that fills a running Tailgate instance with
// demo challenges, bets and tails through the HTTP API.
//
// Usage:
//
//	go run scripts/seed_demo.go -api http://localhost:8700 -members 25 -bets 8
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

var (
	sportsbooks = []string{"prizepicks", "underdog", "draftkings", "fanduel", "betmgm"}
	leagues     = []string{"nfl", "nba", "nhl", "mlb", "ncaab", "soccer"}
)

type member struct {
	ID          string
	Username    string
	DisplayName string
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(m member, method, path string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Whop-User-Id", m.ID)
	req.Header.Set("X-Whop-Username", m.Username)
	req.Header.Set("X-Whop-Display-Name", m.DisplayName)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func main() {
	apiURL := flag.String("api", "http://localhost:8700", "Tailgate API base URL")
	members := flag.Int("members", 25, "number of demo members")
	bets := flag.Int("bets", 8, "number of bets to post")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	faker := gofakeit.New(uint64(*seed))
	c := &client{base: *apiURL + "/api/v1", http: &http.Client{Timeout: 10 * time.Second}}

	newMember := func() member {
		return member{
			ID:          "user_" + faker.Numerify("##########"),
			Username:    faker.Username(),
			DisplayName: faker.Name(),
		}
	}
	host := newMember()

	now := time.Now().UTC()
	var created struct {
		Challenge struct {
			ID string `json:"id"`
		} `json:"challenge"`
	}
	err := c.call(host, "POST", "/challenges", map[string]interface{}{
		"title":            fmt.Sprintf("%s Tail Challenge", faker.MonthString()),
		"description":      faker.Sentence(12),
		"start_date":       now,
		"end_date":         now.Add(30 * 24 * time.Hour),
		"total_prize_pool": float64(faker.Number(5, 50) * 100),
	}, &created)
	if err != nil {
		log.Fatalf("create challenge: %v", err)
	}
	challengeID := created.Challenge.ID
	if err := c.call(host, "PATCH", "/challenges/"+challengeID, map[string]string{"action": "start"}, nil); err != nil {
		log.Fatalf("start challenge: %v", err)
	}
	fmt.Printf("challenge %s started by %s\n", challengeID, host.Username)

	var betIDs []string
	for i := 0; i < *bets; i++ {
		var out struct {
			Bet struct {
				ID string `json:"id"`
			} `json:"bet"`
		}
		err := c.call(host, "POST", "/bets", map[string]interface{}{
			"challenge_id":        challengeID,
			"title":               faker.Sentence(4),
			"caption":             faker.Sentence(10),
			"tail_link":           fmt.Sprintf("https://example.com/slip/%s", faker.Numerify("######")),
			"sportsbook":          faker.RandomString(sportsbooks),
			"league":              faker.RandomString(leagues),
			"tail_window_minutes": faker.Number(15, 120),
		}, &out)
		if err != nil {
			log.Fatalf("create bet: %v", err)
		}
		betIDs = append(betIDs, out.Bet.ID)
	}
	fmt.Printf("posted %d bets\n", len(betIDs))

	tailed := 0
	for i := 0; i < *members; i++ {
		m := newMember()
		for _, betID := range betIDs {
			if !faker.Bool() {
				continue
			}
			if err := c.call(m, "POST", "/tails", map[string]string{"bet_id": betID}, nil); err != nil {
				log.Printf("tail %s by %s: %v", betID, m.Username, err)
				continue
			}
			tailed++
		}
	}
	fmt.Printf("recorded %d tails from %d members\n", tailed, *members)
}
