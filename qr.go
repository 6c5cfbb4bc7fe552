/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/estimate/internal/poker"
)

const qrSize = 320

// roomURL derives the public address of a room from an invite request
// at {prefix}/rooms/:code/qr, respecting TLS and X-Forwarded-Proto.
func roomURL(r *http.Request, code string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	path := strings.TrimSuffix(r.URL.Path, "/qr")
	path = path[:strings.LastIndex(path, "/")+1] + code

	return scheme + "://" + r.Host + path
}

func serveRoomQR(cfg *Config, h *Hub, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		view, err := h.snapshot(r.Context(), ps.ByName("code"))
		if err != nil {
			securityHeaders(cfg, w)
			http.Error(w, poker.Message(err), statusFor(err))

			return
		}

		png, err := qrcode.Encode(roomURL(r, view.RoomCode), qrcode.Medium, qrSize)
		if err != nil {
			securityHeaders(cfg, w)
			http.Error(w, "qr generation failed", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		securityHeaders(cfg, w)

		written, err := w.Write(png)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Invite for room %s (%s) to %s in %s",
			view.RoomCode,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}
