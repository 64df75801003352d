package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"tokengate/internal/config"
	dbpkg "tokengate/internal/db"
	"tokengate/internal/webhook"
)

// ListFiles returns the downloadable catalog. Source URLs are included
// for admins' benefit but a download key is still required to fetch
// bytes through the service.
func ListFiles(db *gorm.DB) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if _, ok := MustUser(ctx); !ok {
			return
		}

		var files []dbpkg.File
		if err := db.Order("created_at DESC").Find(&files).Error; err != nil {
			log.Printf("file list error: %v", err)
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to retrieve files")
			return
		}

		out := make([]map[string]any, 0, len(files))
		for _, f := range files {
			out = append(out, map[string]any{
				"id":        f.ID,
				"title":     f.Title,
				"createdAt": f.CreatedAt,
				"sourceUrl": f.SourceURL,
				"drmFlags":  f.DRMFlags,
			})
		}
		jsonResponse(ctx, out)
	}
}

type useTokenRequest struct {
	FileID json.Number `json:"fileId"`
}

// UseToken spends one token and mints a single-use download key for the
// requested file. The debit and the key row commit atomically; a failed
// request never costs a token.
func UseToken(db *gorm.DB, cfg *config.Config, hooks *webhook.Dispatcher) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		user, ok := MustUser(ctx)
		if !ok {
			return
		}

		var req useTokenRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}

		fileID, err := req.FileID.Int64()
		if err != nil || fileID <= 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "valid file ID is required")
			return
		}

		issued, err := dbpkg.IssueKey(db, user.ID, uint(fileID), cfg.KeyTTL)
		if err != nil {
			switch {
			case errors.Is(err, dbpkg.ErrFileNotFound):
				errResponse(ctx, fasthttp.StatusNotFound, "file not found")
			case errors.Is(err, dbpkg.ErrUserNotFound):
				errResponse(ctx, fasthttp.StatusNotFound, "user not found")
			case errors.Is(err, dbpkg.ErrInsufficientBalance):
				errResponse(ctx, fasthttp.StatusForbidden, "no tokens remaining for today")
			default:
				log.Printf("key issuance error for user %d file %d: %v", user.ID, fileID, err)
				errResponse(ctx, fasthttp.StatusInternalServerError, "download error")
			}
			return
		}

		keysIssued.Inc()

		hooks.Dispatch(webhook.EventTokenUsed, map[string]any{
			"userId":          user.ID,
			"email":           user.Email,
			"name":            user.Name,
			"fileId":          fileID,
			"fileName":        issued.FileName,
			"tokensRemaining": issued.TokensRemaining,
			"tokensPerDay":    user.TokensPerDay,
		})

		jsonResponse(ctx, map[string]any{
			"message":         "token used successfully",
			"downloadKey":     issued.Secret,
			"downloadUrl":     "/api/downloads/" + issued.Secret,
			"expiresAt":       issued.ExpiresAt,
			"fileName":        issued.FileName,
			"tokensRemaining": issued.TokensRemaining,
		})
	}
}

// Download redeems a download key and streams the underlying file. No
// authentication: the key itself is the capability, and it works
// exactly once. Upstream fetch failures are reported as a bad gateway,
// never disguised as a key problem; the consumed key is not restored.
func Download(db *gorm.DB, cfg *config.Config) fasthttp.RequestHandler {
	client := &http.Client{Timeout: cfg.FetchTimeout}

	return func(ctx *fasthttp.RequestCtx) {
		secret, _ := ctx.UserValue("downloadKey").(string)
		if secret == "" {
			errResponse(ctx, fasthttp.StatusNotFound, "download key not found")
			return
		}

		redemption, err := dbpkg.RedeemKey(db, secret)
		if err != nil {
			switch {
			case errors.Is(err, dbpkg.ErrKeyNotFound):
				redemptionsRejected.WithLabelValues("not_found").Inc()
				errResponse(ctx, fasthttp.StatusNotFound, "download key not found")
			case errors.Is(err, dbpkg.ErrKeyAlreadyUsed):
				redemptionsRejected.WithLabelValues("already_used").Inc()
				errResponse(ctx, fasthttp.StatusForbidden, "download key already used")
			case errors.Is(err, dbpkg.ErrKeyExpired):
				redemptionsRejected.WithLabelValues("expired").Inc()
				errResponse(ctx, fasthttp.StatusForbidden, "download key expired")
			case errors.Is(err, dbpkg.ErrFileNotFound):
				// Catalog entry deleted after issuance; the key is
				// consumed either way.
				redemptionsRejected.WithLabelValues("file_missing").Inc()
				errResponse(ctx, fasthttp.StatusNotFound, "file no longer available")
			default:
				log.Printf("key redemption error: %v", err)
				errResponse(ctx, fasthttp.StatusInternalServerError, "download error")
			}
			return
		}

		resp, err := fetchSource(client, redemption.SourceURL)
		if err != nil {
			redemptionsRejected.WithLabelValues("upstream").Inc()
			log.Printf("upstream fetch error for %q: %v", redemption.FileName, err)
			errResponse(ctx, fasthttp.StatusBadGateway, "failed to fetch file from source")
			return
		}

		keysRedeemed.Inc()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			ctx.SetContentType(ct)
		} else {
			ctx.SetContentType("application/octet-stream")
		}
		ctx.Response.Header.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", sanitizeFilename(redemption.FileName)))

		// fasthttp closes the stream reader once the response is sent.
		ctx.SetBodyStream(resp.Body, int(resp.ContentLength))
	}
}

func fetchSource(client *http.Client, url string) (*http.Response, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("source responded with status %d", resp.StatusCode)
	}
	return resp, nil
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `"`, "")
	name = strings.ReplaceAll(name, "\n", " ")
	name = strings.ReplaceAll(name, "\r", " ")
	if name == "" {
		name = "download"
	}
	return name
}
