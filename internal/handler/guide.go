package handler

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"k8s.io/klog/v2"

	"flowerpod/internal/service"
	"flowerpod/models"
)

type GuideHandler struct {
	guides    *service.GuideService
	md        goldmark.Markdown
	maxUpload int64
	mediaBase string
}

// NewGuideHandler serves the guide workflows. mediaBase is prepended to
// stored image paths to build public URLs, e.g. /static or a bucket URL.
func NewGuideHandler(guides *service.GuideService, maxUpload int64, mediaBase string) *GuideHandler {
	return &GuideHandler{
		guides:    guides,
		md:        goldmark.New(),
		maxUpload: maxUpload,
		mediaBase: strings.TrimSuffix(mediaBase, "/"),
	}
}

type imageView struct {
	models.GuideImage
	URL         string `json:"url"`
	CaptionHTML string `json:"caption_html"`
}

type guideView struct {
	models.Guide
	Images []imageView `json:"images"`
}

func (h *GuideHandler) view(g *models.Guide) guideView {
	v := guideView{Guide: *g, Images: make([]imageView, 0, len(g.Images))}
	v.Guide.Images = nil
	for _, img := range g.Images {
		iv := imageView{GuideImage: img, URL: h.mediaBase + "/" + img.Image}
		if img.HasCaption() {
			var buf bytes.Buffer
			if err := h.md.Convert([]byte(img.Caption), &buf); err != nil {
				klog.Warningf("render caption of image %d: %v", img.ID, err)
			} else {
				iv.CaptionHTML = buf.String()
			}
		}
		v.Images = append(v.Images, iv)
	}
	return v
}

func (h *GuideHandler) List(c *gin.Context) {
	guides, err := h.guides.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, guides)
}

// Create handles the first authoring phase: multipart title plus one or more
// images fields. The creator is the logged-in user.
func (h *GuideHandler) Create(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	values, files, err := formData(c)
	if err != nil {
		respondError(c, err)
		return
	}
	uploads := make([]service.Upload, 0, len(files["images"]))
	for _, fh := range files["images"] {
		u, err := readUpload(fh, h.maxUpload)
		if err != nil {
			respondError(c, err)
			return
		}
		uploads = append(uploads, u)
	}

	g, err := h.guides.Create(c.Request.Context(), actor, first(values["title"]), uploads)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.view(g))
}

func (h *GuideHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	g, err := h.guides.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(g))
}

type captionRequest struct {
	Captions map[string]string `json:"captions"`
	Ordered  []string          `json:"ordered"`
}

// Caption accepts JSON {"captions": {"<imageID>": "..."}} or {"ordered": [...]},
// or a form with caption_<imageID> fields or repeated caption fields.
func (h *GuideHandler) Caption(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}

	var in service.CaptionInput
	var err error
	if c.ContentType() == "application/json" {
		var req captionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in.Ordered = req.Ordered
		in.ByID, err = keyedIDs(req.Captions, "")
	} else {
		values, _, ferr := formData(c)
		if ferr != nil {
			respondError(c, ferr)
			return
		}
		in.Ordered = values["caption"]
		var byID map[uint][]string
		byID, err = keyedIDs(map[string][]string(values), "caption_")
		if len(byID) > 0 {
			in.ByID = make(map[uint]string, len(byID))
			for imgID, vs := range byID {
				in.ByID[imgID] = first(vs)
			}
		}
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.guides.Caption(c.Request.Context(), actor, id, in); err != nil {
		respondError(c, err)
		return
	}
	g, err := h.guides.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.view(g))
}

// Edit takes optional title and creator fields, caption_<imageID> fields, and
// image_<imageID> replacement files.
func (h *GuideHandler) Edit(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	values, files, err := formData(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var in service.EditInput
	if vs, ok := values["title"]; ok {
		t := first(vs)
		in.Title = &t
	}
	if vs, ok := values["creator"]; ok {
		cr := first(vs)
		in.Creator = &cr
	}
	captions, err := keyedIDs(map[string][]string(values), "caption_")
	if err != nil {
		respondError(c, err)
		return
	}
	replacements, err := keyedIDs(files, "image_")
	if err != nil {
		respondError(c, err)
		return
	}
	in.Images = make(map[uint]service.ImageEdit, len(captions)+len(replacements))
	for imgID, vs := range captions {
		caption := first(vs)
		e := in.Images[imgID]
		e.Caption = &caption
		in.Images[imgID] = e
	}
	for imgID, fhs := range replacements {
		if len(fhs) == 0 {
			continue
		}
		u, err := readUpload(fhs[0], h.maxUpload)
		if err != nil {
			respondError(c, err)
			return
		}
		e := in.Images[imgID]
		e.Replacement = &u
		in.Images[imgID] = e
	}

	g, err := h.guides.Edit(c.Request.Context(), actor, id, in)
	if err != nil {
		if warning, ok := asWarning(err); ok {
			c.JSON(http.StatusOK, gin.H{"guide": h.view(g), "warning": warning})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"guide": h.view(g)})
}

func (h *GuideHandler) Delete(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.guides.Delete(c.Request.Context(), actor, id); err != nil {
		if warning, ok := asWarning(err); ok {
			c.JSON(http.StatusOK, gin.H{"deleted": id, "warning": warning})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (h *GuideHandler) Search(c *gin.Context) {
	q := c.Query("q")
	guides, err := h.guides.Search(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "count": len(guides), "results": guides})
}
