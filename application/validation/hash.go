package validation

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"image/color"
	"image/png"
	"math/bits"
	"regexp"
	"strings"

	"github.com/corona10/goimagehash"

	"spectra/domain/entities"
)

var tagRe = regexp.MustCompile(`<[^>]*>`)
var spaceRe = regexp.MustCompile(`\s+`)

// normalizeDOM strips markup and collapses whitespace so the hash
// tracks content rather than formatting.
func normalizeDOM(html string) string {
	text := tagRe.ReplaceAllString(html, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// domHash fingerprints normalized page content.
func domHash(html string) string {
	sum := md5.Sum([]byte(normalizeDOM(html)))
	return hex.EncodeToString(sum[:])
}

// tokenJaccard computes token-set similarity between two documents.
// Returns 1.0 for two empty documents.
func tokenJaccard(a, b string) float64 {
	setA := tokenSet(normalizeDOM(a))
	setB := tokenSet(normalizeDOM(b))

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, token := range strings.Fields(strings.ToLower(text)) {
		set[token] = true
	}
	return set
}

// visualHash computes a perceptual hash of a PNG screenshot. Returns 0
// when the image cannot be decoded.
func visualHash(shot []byte) uint64 {
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return 0
	}
	hash, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0
	}
	return hash.GetHash()
}

// hashDistance is the hamming distance between two perceptual hashes.
func hashDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

const (
	pixelThreshold  = 30
	minRegionExtent = 10
)

// changedRegion returns the bounding box of pixels that differ by more
// than the threshold between two PNG screenshots. Regions smaller than
// the minimum extent are discarded as noise.
func changedRegion(before, after []byte) []entities.Region {
	imgA, errA := png.Decode(bytes.NewReader(before))
	imgB, errB := png.Decode(bytes.NewReader(after))
	if errA != nil || errB != nil {
		return nil
	}

	boundsA := imgA.Bounds()
	boundsB := imgB.Bounds()
	if boundsA != boundsB {
		return []entities.Region{{
			X: 0, Y: 0,
			Width:  boundsB.Dx(),
			Height: boundsB.Dy(),
		}}
	}

	minX, minY := boundsA.Max.X, boundsA.Max.Y
	maxX, maxY := boundsA.Min.X, boundsA.Min.Y
	found := false

	for y := boundsA.Min.Y; y < boundsA.Max.Y; y++ {
		for x := boundsA.Min.X; x < boundsA.Max.X; x++ {
			ga := color.GrayModel.Convert(imgA.At(x, y)).(color.Gray).Y
			gb := color.GrayModel.Convert(imgB.At(x, y)).(color.Gray).Y
			diff := int(ga) - int(gb)
			if diff < 0 {
				diff = -diff
			}
			if diff > pixelThreshold {
				found = true
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if !found {
		return nil
	}
	width := maxX - minX + 1
	height := maxY - minY + 1
	if width <= minRegionExtent && height <= minRegionExtent {
		return nil
	}
	return []entities.Region{{X: minX, Y: minY, Width: width, Height: height}}
}
