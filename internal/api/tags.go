package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kalambet/tagask/internal/directory"
)

type tagHandler func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string)

// withTags resolves the provider and builds a tag service for the request.
func withTags(deps Deps, h tagHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := provider(w, r, deps)
		if !ok {
			return
		}
		h(w, r, directory.NewTagService(p, deps.logger()), chi.URLParam(r, "teamId"))
	}
}

func writeTagError(w http.ResponseWriter, deps Deps, err error) {
	switch {
	case errors.Is(err, directory.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "tag not found")
	case errors.Is(err, directory.ErrInvalidTag):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	default:
		deps.logger().Error("tag operation failed", zap.Error(err))
		httpError(w, http.StatusBadGateway, "directory_error", "the directory request failed")
	}
}

func handleListTags(deps Deps) http.HandlerFunc {
	return withTags(deps, func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string) {
		tags, err := svc.List(r.Context(), teamID)
		if err != nil {
			writeTagError(w, deps, err)
			return
		}
		if tags == nil {
			tags = []directory.Tag{}
		}
		writeJSON(w, http.StatusOK, tags)
	})
}

func handleCreateTag(deps Deps) http.HandlerFunc {
	return withTags(deps, func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string) {
		var in directory.TagInput
		if !decodeBody(w, r, &in) {
			return
		}
		tag, err := svc.Create(r.Context(), teamID, in)
		if err != nil {
			writeTagError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
	})
}

func handleGetTag(deps Deps) http.HandlerFunc {
	return withTags(deps, func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string) {
		tag, err := svc.Get(r.Context(), teamID, chi.URLParam(r, "tagId"))
		if err != nil {
			writeTagError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, tag)
	})
}

func handleUpdateTag(deps Deps) http.HandlerFunc {
	return withTags(deps, func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string) {
		var in directory.TagInput
		if !decodeBody(w, r, &in) {
			return
		}
		res, err := svc.Update(r.Context(), teamID, chi.URLParam(r, "tagId"), in)
		if err != nil {
			writeTagError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func handleDeleteTag(deps Deps) http.HandlerFunc {
	return withTags(deps, func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string) {
		if err := svc.Delete(r.Context(), teamID, chi.URLParam(r, "tagId")); err != nil {
			writeTagError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	})
}

func handleDuplicateTag(deps Deps) http.HandlerFunc {
	return withTags(deps, func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string) {
		tag, err := svc.Duplicate(r.Context(), teamID, chi.URLParam(r, "tagId"))
		if err != nil {
			writeTagError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
	})
}

func handleTagMembers(deps Deps) http.HandlerFunc {
	return withTags(deps, func(w http.ResponseWriter, r *http.Request, svc *directory.TagService, teamID string) {
		members, err := svc.Members(r.Context(), teamID, chi.URLParam(r, "tagId"))
		if err != nil {
			writeTagError(w, deps, err)
			return
		}
		if members == nil {
			members = []directory.Member{}
		}
		writeJSON(w, http.StatusOK, members)
	})
}
