// Command testagent simulates a downloader agent: it subscribes to a
// downloader topic, "fetches" every Request it receives, and publishes a
// Response envelope back onto the requesting spider's control topic. It
// exists so a spidercore deployment can be exercised end to end without a
// real HTTP-fetching fleet on the other side of the bus.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/deepcrawl/spidercore/internal/logging"
	"github.com/deepcrawl/spidercore/internal/model"
	"github.com/deepcrawl/spidercore/internal/mqbus"
)

var (
	failFirstN    = 0
	reqCount      = atomic.Int64{}
	responseDelay = 0 * time.Millisecond
	fetch         = true
)

func main() {
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			failFirstN = n
		}
	}
	if v := os.Getenv("RESPONSE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			responseDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("TESTAGENT_NO_FETCH"); v != "" {
		fetch = false
	}

	topic := os.Getenv("DOWNLOADER_TOPIC")
	if topic == "" {
		topic = model.DefaultDownloaderType
	}
	agentName := os.Getenv("AGENT_NAME")
	if agentName == "" {
		agentName = "testagent"
	}

	nsqdAddr := os.Getenv("NSQD_TCP_ADDR")
	if nsqdAddr == "" {
		nsqdAddr = "127.0.0.1:4150"
	}
	lookupAddr := os.Getenv("NSQLOOKUPD_HTTP_ADDR")
	if lookupAddr == "" {
		lookupAddr = "http://127.0.0.1:4161"
	}

	logger := logging.New("testagent")
	bus := mqbus.New(nsqdAddr, lookupAddr, logger)
	defer bus.Close()

	httpClient := &http.Client{Timeout: 15 * time.Second}

	handler := func(ctx context.Context, payload []byte) error {
		var req model.Request
		if err := json.Unmarshal(payload, &req); err != nil {
			logger.Plain().WithError(err).Warn("testagent: unrecognized request payload, ignoring")
			return nil
		}

		resp := fetchOne(ctx, httpClient, &req, agentName)

		env := model.Envelope{Kind: model.KindResponse, Response: resp}
		out, err := json.Marshal(env)
		if err != nil {
			return err
		}

		replyTopic := "Spider." + strings.ToUpper(req.Owner)
		return bus.Publish(ctx, replyTopic, out)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, topic, "testagent", handler)
	if err != nil {
		logger.Plain().WithError(err).Fatal("testagent: subscribe failed")
	}
	defer sub.Stop()

	logger.Plain().WithField("topic", topic).Info("testagent listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-stop:
	case <-sub.Done():
	}
	cancel()
}

// fetchOne simulates (or, with fetch=true, actually performs) one
// download, honoring the same flakiness knobs as fake-receiver: the first
// failFirstN requests fail, and every response is delayed by
// responseDelay to simulate load.
func fetchOne(ctx context.Context, client *http.Client, req *model.Request, agentName string) *model.Response {
	n := reqCount.Add(1)
	start := time.Now()

	if responseDelay > 0 {
		select {
		case <-time.After(responseDelay):
		case <-ctx.Done():
		}
	}

	if n <= int64(failFirstN) {
		return &model.Response{
			RequestHash:         req.Hash,
			StatusCode:          http.StatusInternalServerError,
			Agent:               agentName,
			ElapsedMilliseconds: time.Since(start).Milliseconds(),
		}
	}

	if !fetch {
		return &model.Response{
			RequestHash:         req.Hash,
			StatusCode:          http.StatusOK,
			Agent:               agentName,
			ElapsedMilliseconds: time.Since(start).Milliseconds(),
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.RequestUri, nil)
	if err != nil {
		return &model.Response{RequestHash: req.Hash, StatusCode: http.StatusBadRequest, Agent: agentName, ElapsedMilliseconds: time.Since(start).Milliseconds()}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return &model.Response{RequestHash: req.Hash, StatusCode: http.StatusBadGateway, Agent: agentName, ElapsedMilliseconds: time.Since(start).Milliseconds()}
	}
	defer httpResp.Body.Close()

	const maxBody = 1 << 20
	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxBody))

	return &model.Response{
		RequestHash:         req.Hash,
		StatusCode:          httpResp.StatusCode,
		Agent:               agentName,
		ElapsedMilliseconds: time.Since(start).Milliseconds(),
		Content:             body,
	}
}
