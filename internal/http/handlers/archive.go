package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"path"

	"creativehub/internal/domain"
	"creativehub/pkg/zip"
)

// RequestArchive streams the completed creatives of a request as one zip.
func (a *App) RequestArchive(w http.ResponseWriter, r *http.Request) {
	req, err := a.ownedRequest(r)
	if err != nil {
		a.fail(w, r, err, "request")
		return
	}
	creatives, err := a.Creatives.ListByRequest(r.Context(), req.ID)
	if err != nil {
		a.fail(w, r, err, "creatives")
		return
	}

	var assets []zip.Asset
	for _, c := range creatives {
		if c.Status != domain.CreativeStatusCompleted || c.ResultURL == nil {
			continue
		}
		key, ok := a.Files.KeyFromURL(*c.ResultURL)
		if !ok {
			continue
		}
		data, err := a.Files.Read(r.Context(), key)
		if err != nil {
			a.Logger.Warn().Err(err).Str("creative_id", c.ID).Msg("archive: skipping unreadable creative")
			continue
		}
		asset := zip.Asset{Filename: c.Params.Format + path.Ext(key), Data: data}
		if c.ProcessedAt != nil {
			asset.Modified = *c.ProcessedAt
		}
		assets = append(assets, asset)
	}
	if len(assets) == 0 {
		a.error(w, http.StatusConflict, "not_ready", "request has no completed creatives")
		return
	}

	var buf bytes.Buffer
	if _, err := zip.Write(&buf, assets); err != nil {
		a.fail(w, r, err, "archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=request-%s.zip", req.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
