package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// imageSource holds the parsed request body. Lookup order per field is
// uploaded file part, form value, JSON body field.
type imageSource struct {
	files    map[string][]*multipart.FileHeader
	postForm url.Values
	json     map[string]any
}

func readImageSource(c *gin.Context, maxBytes int64) (*imageSource, error) {
	src := &imageSource{}
	if c.Request.Body == nil {
		return src, nil
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	contentType := c.ContentType()
	switch {
	case contentType == gin.MIMEMultipartPOSTForm:
		if err := c.Request.ParseMultipartForm(maxBytes); err != nil {
			return src, err
		}
		src.files = c.Request.MultipartForm.File
		src.postForm = c.Request.PostForm
	case contentType == gin.MIMEPOSTForm:
		if err := c.Request.ParseForm(); err != nil {
			return src, err
		}
		src.postForm = c.Request.PostForm
	case contentType == gin.MIMEJSON || strings.HasSuffix(contentType, "+json"):
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			return src, err
		}
		src.json = body
	}
	return src, nil
}

// lookup returns the raw value for field: an opened upload stream, form
// text, or whatever JSON value was sent.
func (s *imageSource) lookup(field string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if files := s.files[field]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, true
		}
		return f, true
	}
	if values, ok := s.postForm[field]; ok && len(values) > 0 {
		return values[0], true
	}
	if value, ok := s.json[field]; ok {
		return value, true
	}
	return nil, false
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge)
}
