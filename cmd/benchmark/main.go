package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stellar/go/keypair"

	"github.com/punchamoorthee/flashsettle/internal/api"
	"github.com/punchamoorthee/flashsettle/internal/auth"
	"github.com/punchamoorthee/flashsettle/internal/domain"
	"github.com/punchamoorthee/flashsettle/internal/models"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	keysPath    string
	contract    string
	network     string
	jwtSecret   string
	escrow      int64
	payment     int64
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Settled
	fail409       uint64 // Replays and lifecycle conflicts
	fail422       uint64 // Value and temporal rejections
	fail429       uint64 // Per-channel rate limit
	failOther     uint64
)

type keyFile struct {
	Token   string   `json:"token"`
	Server  string   `json:"server_seed"`
	Clients []string `json:"client_seeds"`
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers, one channel each")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "paced", "Workload type: paced | burst | replay")
	flag.StringVar(&keysPath, "keys", "seed_keys.json", "Key file written by the seeder")
	flag.StringVar(&contract, "contract", os.Getenv("CONTRACT_ADDRESS"), "Settlement contract address")
	flag.StringVar(&network, "network", "stellar-testnet", "x402 network name")
	flag.StringVar(&jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "Secret used to mint caller tokens")
	flag.Int64Var(&escrow, "escrow", 1_000_000, "Amount escrowed per channel")
	flag.Int64Var(&payment, "payment", 100, "Amount per settlement")
}

func main() {
	flag.Parse()

	raw, err := os.ReadFile(keysPath)
	if err != nil {
		log.Fatalf("Unable to read keys: %v", err)
	}
	var keys keyFile
	if err := json.Unmarshal(raw, &keys); err != nil {
		log.Fatalf("Invalid key file: %v", err)
	}
	if concurrency > len(keys.Clients) {
		log.Fatalf("Only %d seeded clients for %d workers", len(keys.Clients), concurrency)
	}
	server := keypair.MustParseFull(keys.Server)

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		w := &worker{
			http:   &http.Client{Timeout: 5 * time.Second},
			client: keypair.MustParseFull(keys.Clients[i]),
			server: server,
			token:  domain.Address(keys.Token),
		}
		go w.run(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

type worker struct {
	http   *http.Client
	client *keypair.Full
	server *keypair.Full
	token  domain.Address
	nonce  uint64
}

func (w *worker) run(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := domain.Address(w.client.Address())
	server := domain.Address(w.server.Address())

	if err := w.open(); err != nil {
		log.Printf("open %s: %v", client, err)
		atomic.AddUint64(&failOther, 1)
		return
	}
	if err := w.fetchNonce(); err != nil {
		log.Printf("nonce %s: %v", client, err)
		atomic.AddUint64(&failOther, 1)
		return
	}

	var last []byte
	for time.Since(start) < duration {
		var body []byte
		if workload == "replay" && last != nil {
			body = last
		} else {
			var err error
			if body, err = w.paymentHeader(client, server); err != nil {
				log.Fatalf("sign: %v", err)
			}
		}

		status, err := w.settle(client, server, string(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch status {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
			w.nonce++
			last = body
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		case http.StatusTooManyRequests:
			atomic.AddUint64(&fail429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}

		// One settlement per channel per second; paced workers stay under it.
		if workload == "paced" {
			time.Sleep(time.Second)
		}
	}

	if _, err := w.call(http.MethodPost, fmt.Sprintf("/api/v1/channels/%s/%s/close", client, server), client, nil, nil); err != nil {
		log.Printf("close %s: %v", client, err)
	}
}

func (w *worker) open() error {
	body, _ := json.Marshal(models.OpenChannelRequest{
		Server:     w.server.Address(),
		Token:      w.token.String(),
		Amount:     fmt.Sprint(escrow),
		TTLSeconds: uint64((duration + time.Minute).Seconds()),
	})
	status, err := w.call(http.MethodPost, "/api/v1/channels", domain.Address(w.client.Address()), body, nil)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", status)
	}
	return nil
}

func (w *worker) fetchNonce() error {
	var out models.NonceResponse
	status, err := w.call(http.MethodGet, "/api/v1/clients/"+w.client.Address()+"/nonce", "", nil, &out)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status %d", status)
	}
	w.nonce = out.Nonce
	return nil
}

func (w *worker) paymentHeader(client, server domain.Address) ([]byte, error) {
	pa := domain.PaymentAuth{
		SettlementContract: domain.Address(contract),
		Client:             client,
		Server:             server,
		Token:              w.token,
		Amount:             big.NewInt(payment),
		Nonce:              w.nonce,
		Deadline:           uint64(time.Now().Add(time.Minute).Unix()),
	}
	sig, err := auth.Sign(w.client, pa)
	if err != nil {
		return nil, err
	}
	header, err := models.EncodePaymentHeader(models.PaymentPayload{
		X402Version: models.X402Version,
		Scheme:      models.X402Scheme,
		Network:     network,
		Payload: models.SettleRequest{
			Auth:      api.PaymentAuthToWire(pa),
			Signature: hex.EncodeToString(sig[:]),
			PublicKey: w.client.Address(),
		},
	})
	return []byte(header), err
}

func (w *worker) settle(client, server domain.Address, header string) (int, error) {
	req, err := w.request(http.MethodPost, fmt.Sprintf("/api/v1/channels/%s/%s/settlements", client, server), server, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Payment", header)
	return w.do(req, nil)
}

func (w *worker) call(method, path string, as domain.Address, body []byte, out any) (int, error) {
	req, err := w.request(method, path, as, body)
	if err != nil {
		return 0, err
	}
	return w.do(req, out)
}

func (w *worker) request(method, path string, as domain.Address, body []byte) (*http.Request, error) {
	req, err := http.NewRequest(method, targetURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if as != "" && jwtSecret != "" {
		token, err := api.IssueToken(jwtSecret, as, duration+time.Minute)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (w *worker) do(req *http.Request, out any) (int, error) {
	resp, err := w.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	f429 := atomic.LoadUint64(&fail429)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(s201) / d.Seconds()
	var rejectRate float64
	if total > 0 {
		rejectRate = float64(total-s201) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"settled_per_sec":   tps,
		"settled":           s201,
		"rejected_conflict": f409,
		"rejected_value":    f422,
		"rate_limited":      f429,
		"reject_rate_pct":   rejectRate,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
