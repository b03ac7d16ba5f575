package handlers

import (
	"net/http"
	"strings"

	"github.com/palabrita/palabrita/internal/errors"
	"github.com/palabrita/palabrita/internal/router"
	"github.com/palabrita/palabrita/internal/version"
)

// Image is a search result from the stock-photo catalog.
type Image struct {
	ID              string `json:"id"`
	URL             string `json:"url"`
	Alt             string `json:"alt"`
	Photographer    string `json:"photographer,omitempty"`
	PhotographerURL string `json:"photographer_url,omitempty"`
}

// Images serves image search over a fixed catalog. The real provider call
// is upstream of this service.
type Images struct {
	flags   *version.Flags
	catalog []Image
}

func NewImages(flags *version.Flags) *Images {
	return &Images{
		flags: flags,
		catalog: []Image{
			{ID: "pexels-417074", URL: "https://images.pexels.com/photos/417074", Alt: "lake and mountains", Photographer: "Riccardo Bresciani", PhotographerURL: "https://www.pexels.com/@riciardus"},
			{ID: "pexels-1660995", URL: "https://images.pexels.com/photos/1660995", Alt: "colorful coastal street", Photographer: "Tove Liu", PhotographerURL: "https://www.pexels.com/@toveliu"},
			{ID: "pexels-2265876", URL: "https://images.pexels.com/photos/2265876", Alt: "fruit market stall", Photographer: "Mark Stebnicki", PhotographerURL: "https://www.pexels.com/@mark-stebnicki"},
			{ID: "pexels-709552", URL: "https://images.pexels.com/photos/709552", Alt: "mountain trail", Photographer: "Nina Uhlikova", PhotographerURL: "https://www.pexels.com/@ninauhlikova"},
		},
	}
}

// Handlers returns the per-version handler table for /images/search.
func (h *Images) Handlers() map[version.Token]router.Handler {
	return map[version.Token]router.Handler{
		"v1": h.serveV1,
		"v2": h.serveV2,
	}
}

func (h *Images) search(r *http.Request) ([]Image, string, error) {
	if r.Method != http.MethodGet {
		return nil, "", errors.ErrMethodNotAllowed
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		return nil, "", errors.ErrBadRequest.WithDetails("missing q parameter")
	}
	matches := make([]Image, 0, len(h.catalog))
	for _, img := range h.catalog {
		if strings.Contains(img.Alt, strings.ToLower(query)) {
			matches = append(matches, img)
		}
	}
	return matches, query, nil
}

func (h *Images) serveV1(r *http.Request) (*router.Response, error) {
	matches, query, err := h.search(r)
	if err != nil {
		return nil, err
	}
	// v1 predates photographer attribution.
	for i := range matches {
		matches[i].Photographer = ""
		matches[i].PhotographerURL = ""
	}
	return marshalResponse(http.StatusOK, struct {
		Images []Image `json:"images"`
		Query  string  `json:"query"`
	}{Images: matches, Query: query})
}

func (h *Images) serveV2(r *http.Request) (*router.Response, error) {
	matches, query, err := h.search(r)
	if err != nil {
		return nil, err
	}
	if !h.flags.Has("v2", "images.attribution") {
		for i := range matches {
			matches[i].Photographer = ""
			matches[i].PhotographerURL = ""
		}
	}
	var body struct {
		Data struct {
			Results []Image `json:"results"`
		} `json:"data"`
		Meta struct {
			Query string `json:"query"`
			Count int    `json:"count"`
		} `json:"meta"`
	}
	body.Data.Results = matches
	body.Meta.Query = query
	body.Meta.Count = len(matches)
	return marshalResponse(http.StatusOK, body)
}
