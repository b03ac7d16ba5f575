package handlers

import (
	"net/http"
	"path"
	"strconv"

	"github.com/palabrita/palabrita/internal/errors"
	"github.com/palabrita/palabrita/internal/router"
	"github.com/palabrita/palabrita/internal/version"
)

// Description is an AI-generated Spanish scene description for an image.
type Description struct {
	ID      int64  `json:"id"`
	ImageID string `json:"image_id"`
	Text    string `json:"text"`
	English string `json:"english,omitempty"`
	Level   string `json:"level"`
}

// Descriptions serves stored scene descriptions. Generation itself happens
// upstream; this service only exposes the stored results.
type Descriptions struct {
	flags *version.Flags
	byID  map[int64]Description
}

func NewDescriptions(flags *version.Flags) *Descriptions {
	return &Descriptions{
		flags: flags,
		byID:  seedDescriptions(),
	}
}

func seedDescriptions() map[int64]Description {
	seed := []Description{
		{ID: 1, ImageID: "pexels-417074", Text: "Un lago tranquilo rodeado de montañas al amanecer.", English: "A calm lake surrounded by mountains at dawn.", Level: "A2"},
		{ID: 2, ImageID: "pexels-1660995", Text: "Una calle estrecha con casas de colores en un pueblo costero.", English: "A narrow street with colorful houses in a coastal town.", Level: "B1"},
		{ID: 3, ImageID: "pexels-2265876", Text: "Un mercado al aire libre lleno de frutas y verduras frescas.", English: "An open-air market full of fresh fruit and vegetables.", Level: "A2"},
	}
	m := make(map[int64]Description, len(seed))
	for _, d := range seed {
		m[d.ID] = d
	}
	return m
}

// Handlers returns the per-version handler table for /descriptions/{id}.
func (h *Descriptions) Handlers() map[version.Token]router.Handler {
	return map[version.Token]router.Handler{
		"v1": h.serveV1,
		"v2": h.serveV2,
	}
}

func (h *Descriptions) lookup(r *http.Request) (Description, error) {
	if r.Method != http.MethodGet {
		return Description{}, errors.ErrMethodNotAllowed
	}
	id, err := strconv.ParseInt(path.Base(r.URL.Path), 10, 64)
	if err != nil {
		return Description{}, errors.ErrBadRequest.WithDetails("invalid description id")
	}
	d, ok := h.byID[id]
	if !ok {
		return Description{}, errors.ErrNotFound.WithDetails("description " + strconv.FormatInt(id, 10) + " not found")
	}
	return d, nil
}

func (h *Descriptions) serveV1(r *http.Request) (*router.Response, error) {
	d, err := h.lookup(r)
	if err != nil {
		return nil, err
	}
	// The v1 shape never carried translations.
	d.English = ""
	return marshalResponse(http.StatusOK, d)
}

func (h *Descriptions) serveV2(r *http.Request) (*router.Response, error) {
	d, err := h.lookup(r)
	if err != nil {
		return nil, err
	}
	if !h.flags.Has("v2", "descriptions.translations") {
		d.English = ""
	}
	return marshalResponse(http.StatusOK, struct {
		Data Description `json:"data"`
	}{Data: d})
}
