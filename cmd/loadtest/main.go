// Command loadtest drives the replicator HTTP surface with concurrent
// requests. The server target exercises only local code paths; the stripe
// target reaches the real payment API and is clamped to a handful of
// requests so a typo cannot hammer it.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/http"
	"sync"
	"time"
)

func main() {
	base := flag.String("base", "http://localhost:5005", "Server base URL")
	target := flag.String("target", "server", "Mode: 'server' (stress test) or 'stripe' (connection check)")
	requests := flag.Int("n", 100, "Total number of requests")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	flag.Parse()

	switch *target {
	case "server":
		fmt.Println("mode: server stress test (no external APIs)")
		run(*base+"/ping", http.MethodGet, *requests, *concurrency)
	case "stripe":
		fmt.Println("mode: stripe connection check")
		fmt.Println("warning: this hits the real Stripe API; limits are clamped")
		run(*base+"/create-payment-intent", http.MethodPost, 5, 1)
	default:
		fmt.Println("unknown target, use -target=server or -target=stripe")
	}
}

func run(url, method string, total, concurrent int) {
	fmt.Printf("target: %s\n", url)
	start := time.Now()

	var wg sync.WaitGroup
	results := make(chan int, total)
	perWorker := total / concurrent

	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				results <- doRequest(url, method)
			}
		}()
	}

	wg.Wait()
	close(results)
	duration := time.Since(start)

	success, fail := 0, 0
	for code := range results {
		if code == http.StatusOK {
			success++
		} else {
			fail++
		}
	}

	fmt.Printf("success: %d\n", success)
	fmt.Printf("failed:  %d\n", fail)
	fmt.Printf("time:    %v\n", duration)
	fmt.Printf("rate:    %.2f req/sec\n", float64(success+fail)/duration.Seconds())
	if fail > 0 {
		fmt.Println("note: failures against the stripe target usually mean an invalid API key")
	}
}

func doRequest(url, method string) int {
	client := &http.Client{Timeout: 5 * time.Second}
	var req *http.Request
	var err error
	if method == http.MethodPost {
		body := []byte(`{"moduleId": "intersection-basic"}`)
		req, err = http.NewRequest(method, url, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	if err != nil {
		return 0
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	return resp.StatusCode
}
