package ingest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/queue"
	"github.com/gin-gonic/gin"
)

// TopicEvents is the NSQ topic pixel events are published to.
const TopicEvents = "events"

type NSQMessage struct {
	Type     string          `json:"type"`
	TagID    string          `json:"tag_id"`
	Received time.Time       `json:"received"`
	Payload  json.RawMessage `json:"payload"`
	Meta     *MessageMeta    `json:"meta,omitempty"`
}

type MessageMeta struct {
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// CollectHandler accepts one event object or an array of them for the tag in
// the path, validates each and enqueues them for the consumer.
func CollectHandler(publisher queue.Publisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tagID := strings.TrimSpace(c.Param("tagId"))
		if tagID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "err": "tagId is required"})
			return
		}
		body, err := readBody(c, 1<<20)
		if err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		items, err := decodeOneOrMany[map[string]any](body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "err": "invalid json"})
			return
		}

		now := time.Now().UTC()
		meta := &MessageMeta{
			ClientIP:  c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		bodies := make([][]byte, 0, len(items))
		for _, item := range items {
			if item == nil {
				item = map[string]any{}
			}
			item["tag_id"] = tagID
			if _, has := item["created_at"]; !has {
				item["created_at"] = now.Format(time.RFC3339Nano)
			}
			if _, err := Canonicalize(item); err != nil {
				c.JSON(apperr.HTTPStatus(err), gin.H{"code": apperr.HTTPStatus(err), "err": err.Error()})
				return
			}
			msg, _ := json.Marshal(NSQMessage{
				Type:     "event",
				TagID:    tagID,
				Received: now,
				Payload:  mustJSON(item),
				Meta:     meta,
			})
			bodies = append(bodies, msg)
		}

		if err := publish(publisher, TopicEvents, bodies); err != nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"code": 0, "data": gin.H{"accepted": len(bodies)}})
	}
}

func publish(publisher queue.Publisher, topic string, bodies [][]byte) error {
	if bp, ok := publisher.(queue.BatchPublisher); ok && len(bodies) > 1 {
		return bp.MultiPublish(topic, bodies)
	}
	for _, b := range bodies {
		if err := publisher.Publish(topic, b); err != nil {
			return err
		}
	}
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func decodeOneOrMany[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == byte('[') {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return nil, errors.New("empty array")
		}
		return items, nil
	}
	var item T
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, err
	}
	return []T{item}, nil
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	defer c.Request.Body.Close()

	raw := io.LimitReader(c.Request.Body, limit)
	enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
	if strings.Contains(enc, "gzip") {
		zr, err := gzip.NewReader(raw)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, limit))
	}
	return io.ReadAll(raw)
}
