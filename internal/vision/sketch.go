package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// EnhanceSketch prepares a hand-drawn sketch for face detection:
// CLAHE equalisation, a light blur, adaptive edges, then a 70/30 blend of
// the equalised image with the edges, returned as RGB.
func EnhanceSketch(img image.Image) (image.Image, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert sketch: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	clahe := gocv.NewCLAHEWithParams(3.0, image.Pt(8, 8))
	defer clahe.Close()
	eq := gocv.NewMat()
	defer eq.Close()
	clahe.Apply(gray, &eq)

	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(eq, &blur, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.AdaptiveThreshold(blur, &edges, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, 11, 2)

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(eq, 0.7, edges, 0.3, 0, &blended)

	out := gocv.NewMat()
	defer out.Close()
	gocv.CvtColor(blended, &out, gocv.ColorGrayToBGR)

	res, err := out.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert enhanced sketch: %w", err)
	}
	return res, nil
}
