package pod

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/solid-chess/internal/obslog"
)

// ChangeFunc is told about every collection whose membership changed.
type ChangeFunc func(collectionURL string)

// Handler serves a Store over HTTP using the wire shapes HTTPStore expects.
// A request path p addresses the resource base+p.
type Handler struct {
	base     string
	store    Store
	onChange ChangeFunc
}

func NewHandler(base string, store Store, onChange ChangeFunc) *Handler {
	return &Handler{base: strings.TrimRight(base, "/"), store: store, onChange: onChange}
}

func (h *Handler) Serve(ctx *fasthttp.RequestCtx) {
	target := h.base + string(ctx.Path())
	method := string(ctx.Method())
	isColl := strings.HasSuffix(target, "/")

	switch {
	case method == fasthttp.MethodGet && isColl:
		h.list(ctx, target)
	case method == fasthttp.MethodGet:
		h.fetch(ctx, target)
	case method == fasthttp.MethodPost && isColl:
		h.post(ctx, target)
	case method == fasthttp.MethodPatch && !isColl:
		h.write(ctx, target)
	case method == fasthttp.MethodDelete && !isColl:
		h.delete(ctx, target)
	default:
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
	}
}

func (h *Handler) fetch(ctx *fasthttp.RequestCtx, target string) {
	facts, err := h.store.Fetch(ctx, target)
	if errors.Is(err, ErrNotFound) {
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		h.fail(ctx, "pod_fetch_failed", target, err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, factsBody{Facts: facts})
}

func (h *Handler) list(ctx *fasthttp.RequestCtx, target string) {
	typ := string(ctx.QueryArgs().Peek("type"))
	members, err := h.store.ListTyped(ctx, target, typ)
	if err != nil {
		h.fail(ctx, "pod_list_failed", target, err)
		return
	}
	if members == nil {
		members = []string{}
	}
	writeJSON(ctx, fasthttp.StatusOK, membersBody{Members: members})
}

func (h *Handler) write(ctx *fasthttp.RequestCtx, target string) {
	var body factsBody
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.Error("bad request", fasthttp.StatusBadRequest)
		return
	}
	if err := h.store.Write(ctx, target, body.Facts); err != nil {
		h.fail(ctx, "pod_write_failed", target, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handler) post(ctx *fasthttp.RequestCtx, target string) {
	var body factsBody
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		ctx.Error("bad request", fasthttp.StatusBadRequest)
		return
	}
	created, err := h.store.Post(ctx, target, body.Facts)
	if err != nil {
		h.fail(ctx, "pod_post_failed", target, err)
		return
	}
	ctx.Response.Header.Set(fasthttp.HeaderLocation, created)
	ctx.SetStatusCode(fasthttp.StatusCreated)
	h.changed(target)
}

func (h *Handler) delete(ctx *fasthttp.RequestCtx, target string) {
	if _, err := h.store.Fetch(ctx, target); errors.Is(err, ErrNotFound) {
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}
	if err := h.store.Delete(ctx, target); err != nil {
		h.fail(ctx, "pod_delete_failed", target, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
	h.changed(ParentOf(target))
}

func (h *Handler) changed(coll string) {
	if h.onChange != nil && coll != "" {
		h.onChange(coll)
	}
}

func (h *Handler) fail(ctx *fasthttp.RequestCtx, event, target string, err error) {
	obslog.L().Warn(event, zap.String("url", target), zap.Error(err))
	ctx.Error("internal error", fasthttp.StatusInternalServerError)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		ctx.Error("encode failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(raw)
}
