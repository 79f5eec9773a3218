package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/noah-isme/xray-triage-api/internal/dto"
	"github.com/noah-isme/xray-triage-api/internal/models"
)

type finding struct {
	disease string
	level   int
}

var findings = []finding{
	{"No Finding", models.SeverityNormal},
	{"Nodule", models.SeverityMild},
	{"Infiltration", models.SeverityMild},
	{"Atelectasis", models.SeverityModerate},
	{"Effusion", models.SeverityModerate},
	{"Consolidation", models.SeveritySevere},
	{"Edema", models.SeveritySevere},
	{"Mass", models.SeverityCritical},
	{"Pneumothorax", models.SeverityCritical},
}

func main() {
	var (
		brokers  string
		topic    string
		count    int
		interval time.Duration
		backfill time.Duration
		encoded  bool
		seed     int64
	)

	flag.StringVar(&brokers, "brokers", "localhost:9092", "Comma separated Kafka brokers")
	flag.StringVar(&topic, "topic", "xray_results", "Result topic")
	flag.IntVar(&count, "count", 20, "Number of results to publish")
	flag.DurationVar(&interval, "interval", 2*time.Second, "Pause between results")
	flag.DurationVar(&backfill, "backfill", 48*time.Hour, "Spread created_at over this much past time; 0 uses now")
	flag.BoolVar(&encoded, "encoded", false, "Send classification as a JSON-encoded string (legacy producers)")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	defer writer.Close()

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < count; i++ {
		msg, err := buildResult(rng, i, backfill, encoded)
		if err != nil {
			log.Fatalf("build result %d: %v", i, err)
		}
		value, err := json.Marshal(msg)
		if err != nil {
			log.Fatalf("encode result %d: %v", i, err)
		}
		if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.PatientID), Value: value, Time: time.Now().UTC()}); err != nil {
			log.Fatalf("publish result %d: %v", i, err)
		}
		log.Printf("sent %s patient=%s", msg.ImageIndex, msg.PatientID)

		if i == count-1 {
			break
		}
		select {
		case <-ctx.Done():
			log.Printf("interrupted after %d results", i+1)
			return
		case <-time.After(interval):
		}
	}
	log.Printf("published %d results to %s", count, topic)
}

func buildResult(rng *rand.Rand, i int, backfill time.Duration, encoded bool) (dto.CaseResultMessage, error) {
	patient := rng.Intn(500) + 1
	created := time.Now().UTC()
	if backfill > 0 {
		created = created.Add(-time.Duration(rng.Int63n(int64(backfill))))
	}

	primary := findings[rng.Intn(len(findings))]
	entries := []models.ClassificationEntry{{
		Disease:       primary.disease,
		Probability:   0.5 + rng.Float64()/2,
		SeverityLevel: primary.level,
		SeverityName:  models.SeverityName(primary.level),
	}}
	if primary.level > models.SeverityNormal {
		extra := findings[1+rng.Intn(len(findings)-1)]
		if extra.level <= primary.level && extra.disease != primary.disease {
			entries = append(entries, models.ClassificationEntry{
				Disease:       extra.disease,
				Probability:   rng.Float64() / 2,
				SeverityLevel: extra.level,
				SeverityName:  models.SeverityName(extra.level),
			})
		}
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return dto.CaseResultMessage{}, err
	}
	if encoded {
		if payload, err = json.Marshal(string(payload)); err != nil {
			return dto.CaseResultMessage{}, err
		}
	}

	image := fmt.Sprintf("%08d_%03d.png", patient, i)
	return dto.CaseResultMessage{
		ImageIndex:     image,
		PatientID:      fmt.Sprintf("%d", patient),
		ImagePath:      "/xray/test/" + image,
		Classification: payload,
		CreatedAt:      &created,
	}, nil
}
