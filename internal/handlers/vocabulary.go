package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/palabrita/palabrita/internal/errors"
	"github.com/palabrita/palabrita/internal/router"
	"github.com/palabrita/palabrita/internal/version"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodyBytes    = 1 << 20
)

// Vocabulary serves the vocabulary resource. The v1 shape is flat with
// offset pagination; the v2 shape wraps payloads in a data envelope and
// switches to cursor pagination when the flag allows it.
type Vocabulary struct {
	store *Store
	flags *version.Flags
}

func NewVocabulary(store *Store, flags *version.Flags) *Vocabulary {
	return &Vocabulary{store: store, flags: flags}
}

// Handlers returns the per-version handler table for /vocabulary.
func (h *Vocabulary) Handlers() map[version.Token]router.Handler {
	return map[version.Token]router.Handler{
		"v1": h.serveV1,
		"v2": h.serveV2,
	}
}

func (h *Vocabulary) serveV1(r *http.Request) (*router.Response, error) {
	switch r.Method {
	case http.MethodGet:
		return h.listV1(r)
	case http.MethodPost:
		return h.createV1(r)
	default:
		return nil, errors.ErrMethodNotAllowed
	}
}

func (h *Vocabulary) serveV2(r *http.Request) (*router.Response, error) {
	switch r.Method {
	case http.MethodGet:
		return h.listV2(r)
	case http.MethodPost:
		return h.createV2(r)
	default:
		return nil, errors.ErrMethodNotAllowed
	}
}

type listV1Body struct {
	Words  []Word `json:"words"`
	Total  int    `json:"total"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (h *Vocabulary) listV1(r *http.Request) (*router.Response, error) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		return nil, err
	}
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		return nil, err
	}
	words, total := h.store.List(offset, clampLimit(limit))

	return marshalResponse(http.StatusOK, listV1Body{
		Words:  words,
		Total:  total,
		Offset: offset,
		Limit:  clampLimit(limit),
	})
}

type listV2Meta struct {
	Total      int    `json:"total"`
	Offset     *int   `json:"offset,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
}

type listV2Body struct {
	Data struct {
		Items []Word `json:"items"`
	} `json:"data"`
	Meta listV2Meta `json:"meta"`
}

func (h *Vocabulary) listV2(r *http.Request) (*router.Response, error) {
	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		return nil, err
	}
	limit = clampLimit(limit)

	var body listV2Body
	if h.flags.Has("v2", "pagination.cursor") {
		offset, err := decodeCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			return nil, err
		}
		items, total := h.store.List(offset, limit)
		body.Data.Items = items
		body.Meta.Total = total
		if offset+len(items) < total {
			body.Meta.NextCursor = encodeCursor(offset + len(items))
		}
	} else {
		offset, err := intParam(r, "offset", 0)
		if err != nil {
			return nil, err
		}
		items, total := h.store.List(offset, limit)
		body.Data.Items = items
		body.Meta.Total = total
		body.Meta.Offset = &offset
		body.Meta.Limit = &limit
	}
	return marshalResponse(http.StatusOK, body)
}

func (h *Vocabulary) createV1(r *http.Request) (*router.Response, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	w, err := wordFromJSON(raw, "")
	if err != nil {
		return nil, err
	}
	saved := h.store.Insert(w)
	return marshalResponse(http.StatusCreated, saved)
}

func (h *Vocabulary) createV2(r *http.Request) (*router.Response, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(raw, "data").Exists() {
		return nil, errors.ErrBadRequest.WithDetails("missing data envelope")
	}
	w, err := wordFromJSON(raw, "data.")
	if err != nil {
		return nil, err
	}
	saved := h.store.Insert(w)
	return marshalResponse(http.StatusCreated, struct {
		Data Word `json:"data"`
	}{Data: saved})
}

func wordFromJSON(raw []byte, prefix string) (Word, error) {
	spanish := gjson.GetBytes(raw, prefix+"spanish").String()
	english := gjson.GetBytes(raw, prefix+"english").String()
	if spanish == "" || english == "" {
		return Word{}, errors.ErrBadRequest.WithDetails("spanish and english are required")
	}
	return Word{
		Spanish:  spanish,
		English:  english,
		Category: gjson.GetBytes(raw, prefix+"category").String(),
	}, nil
}

func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.ErrBadRequest.WithDetails("unreadable request body")
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.ErrBadRequest.WithDetails("request body is not valid JSON")
	}
	return raw, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.ErrBadRequest.WithDetails("invalid " + name + " parameter")
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// Cursors are opaque to clients: a base64 JSON document carrying the
// next offset.
func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"o":%d}`, offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, errors.ErrBadRequest.WithDetails("malformed cursor")
	}
	o := gjson.GetBytes(raw, "o")
	if !o.Exists() || o.Int() < 0 {
		return 0, errors.ErrBadRequest.WithDetails("malformed cursor")
	}
	return int(o.Int()), nil
}

func marshalResponse(status int, v any) (*router.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &router.Response{Status: status, Body: body}, nil
}
