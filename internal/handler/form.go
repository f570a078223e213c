package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"flowerpod/internal/service"
)

// formData returns the posted values and, for multipart bodies, the files.
func formData(c *gin.Context) (url.Values, map[string][]*multipart.FileHeader, error) {
	if c.ContentType() == "multipart/form-data" {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", service.ErrValidation, err)
		}
		return form.Value, form.File, nil
	}
	if err := c.Request.ParseForm(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	return c.Request.PostForm, nil, nil
}

// readUpload reads at most limit+1 bytes so oversized payloads are still
// rejected by the service without buffering them whole.
func readUpload(fh *multipart.FileHeader, limit int64) (service.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return service.Upload{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return service.Upload{}, err
	}
	return service.Upload{Name: fh.Filename, Data: data}, nil
}

// keyedIDs collects "<prefix><id>" keys, e.g. caption_12.
func keyedIDs[T any](m map[string]T, prefix string) (map[uint]T, error) {
	out := make(map[uint]T)
	for key, v := range m {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(rest, 10, 32)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%w: bad field name %q", service.ErrValidation, key)
		}
		out[uint(id)] = v
	}
	return out, nil
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}
