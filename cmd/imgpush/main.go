// imgpush prepares an image for the device and uploads it: it scales to
// the panel, slices it into horizontal strips, re-encodes each strip as
// baseline JPEG and posts them to the strip endpoint. A single-request
// mode and a dismiss mode round out the image API.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

func main() {
	var (
		host     = flag.String("host", "", "Device address, e.g. 192.168.1.111:8080.")
		inPath   = flag.String("in", "", "Input image (jpg/png/gif).")
		mode     = flag.String("mode", "strip", "strip|single|dismiss.")
		stripH   = flag.Int("strip-height", 32, "Strip height in pixels (strip mode).")
		timeout  = flag.Int("timeout", 10, "Display timeout in seconds, 0 = permanent.")
		quality  = flag.Int("quality", 90, "JPEG re-encode quality.")
		swapBGR  = flag.Bool("bgr", false, "Pre-swap R and B channels client-side.")
		panelW   = flag.Int("panel-width", 240, "Panel width.")
		panelH   = flag.Int("panel-height", 280, "Panel height.")
		reqLimit = flag.Duration("req-timeout", 15*time.Second, "Per-request HTTP timeout.")
	)
	flag.Parse()

	if *host == "" {
		fatalf("usage: imgpush -host 192.168.1.111:8080 -in photo.jpg [-mode strip|single|dismiss]")
	}
	client := &http.Client{Timeout: *reqLimit}

	switch strings.ToLower(*mode) {
	case "dismiss":
		if err := dismiss(client, *host); err != nil {
			fatalf("dismiss: %v", err)
		}
		fmt.Println("dismissed")
		return
	case "strip", "single":
	default:
		fatalf("unknown mode: %s", *mode)
	}

	if *inPath == "" {
		fatalf("-in is required for upload modes")
	}
	img, err := loadImage(*inPath, *panelW, *panelH, *swapBGR)
	if err != nil {
		fatalf("load: %v", err)
	}

	switch strings.ToLower(*mode) {
	case "single":
		if err := uploadSingle(client, *host, img, *quality, *timeout); err != nil {
			fatalf("upload: %v", err)
		}
	case "strip":
		if err := uploadStrips(client, *host, img, *stripH, *quality, *timeout); err != nil {
			fatalf("upload: %v", err)
		}
	}
	fmt.Println("done")
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}

// loadImage decodes, scales to exactly panelW x panelH and optionally
// swaps R/B so a BGR-native panel shows correct colors without the
// device doing the swap.
func loadImage(path string, panelW, panelH int, swapBGR bool) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, panelW, panelH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	if swapBGR {
		p := dst.Pix
		for i := 0; i+3 < len(p); i += 4 {
			p[i], p[i+2] = p[i+2], p[i]
		}
	}
	return dst, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uploadSingle(c *http.Client, host string, img *image.RGBA, quality, timeout int) error {
	data, err := encodeJPEG(img, quality)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "image.jpg")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/display/image?timeout=%d", host, timeout)
	req, err := http.NewRequest(http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	fmt.Printf("single: %d bytes via %s\n", len(data), url)
	return doJSON(c, req)
}

func uploadStrips(c *http.Client, host string, img *image.RGBA, stripH, quality, timeout int) error {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	total := (height + stripH - 1) / stripH

	fmt.Printf("strips: %dx%d as %d strips of %dpx\n", width, height, total, stripH)
	for i := 0; i < total; i++ {
		y0 := i * stripH
		y1 := y0 + stripH
		if y1 > height {
			y1 = height
		}
		strip := img.SubImage(image.Rect(0, y0, width, y1))
		data, err := encodeJPEG(strip, quality)
		if err != nil {
			return fmt.Errorf("strip %d: %w", i, err)
		}

		url := fmt.Sprintf("http://%s/api/display/strip?index=%d&total=%d&width=%d&height=%d&timeout=%d",
			host, i, total, width, height, timeout)
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if err := doJSON(c, req); err != nil {
			return fmt.Errorf("strip %d: %w", i, err)
		}
		fmt.Printf("  strip %d/%d ok (%d bytes, %dpx)\n", i, total-1, len(data), y1-y0)
	}
	return nil
}

func dismiss(c *http.Client, host string) error {
	req, err := http.NewRequest(http.MethodDelete, fmt.Sprintf("http://%s/api/display/image", host), nil)
	if err != nil {
		return err
	}
	return doJSON(c, req)
}

func doJSON(c *http.Client, req *http.Request) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
