package audit

import (
	"encoding/json"
	"time"

	"NProject/logger"
	"NProject/service/ot"

	"github.com/Shopify/sarama"
)

// Record is one applied operation in the audit stream, keyed by note id so a
// consumer sees each note's history in order.
type Record struct {
	NoteID   string `json:"note_id"`
	Version  int64  `json:"version"`
	AuthorID string `json:"author_id"`
	Kind     string `json:"kind"`
	Pos      int    `json:"pos"`
	Len      int    `json:"len,omitempty"`
	TextLen  int    `json:"text_len,omitempty"`
	Ts       int64  `json:"ts"`
}

type Config struct {
	Brokers []string
	Topic   string
}

// KafkaSink publishes applied operations to Kafka, fire-and-forget. Rooms
// never block on it; a full input channel drops the record with a warning.
type KafkaSink struct {
	prod  sarama.AsyncProducer
	topic string
}

func NewKafkaSink(cfg Config) (*KafkaSink, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Return.Errors = true

	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, err
	}
	s := &KafkaSink{prod: p, topic: cfg.Topic}

	go func() {
		for err := range p.Errors() {
			logger.Warnf("[audit] async send error: %v", err)
		}
	}()

	return s, nil
}

// Append publishes one applied operation.
func (s *KafkaSink) Append(noteID string, version int64, op ot.Operation) {
	rec := Record{
		NoteID:   noteID,
		Version:  version,
		AuthorID: op.AuthorID,
		Kind:     op.Kind.String(),
		Pos:      op.Pos,
		Len:      op.Len,
		TextLen:  len(op.Text),
		Ts:       time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(noteID),
		Value: sarama.ByteEncoder(raw),
	}
	select {
	case s.prod.Input() <- msg:
	default:
		logger.Warnf("[audit] input full, drop record note=%s version=%d", noteID, version)
	}
}

func (s *KafkaSink) Close() error {
	return s.prod.Close()
}
