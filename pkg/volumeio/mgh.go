package volumeio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"boldconfounds/internal/models"
)

// mghHeader is the fixed part of a FreeSurfer MGH header. All fields are big-endian.
type mghHeader struct {
	Version     int32
	Width       int32
	Height      int32
	Depth       int32
	Frames      int32
	Type        int32
	Dof         int32
	GoodRASFlag int16
	Spacing     [3]float32
	Mdc         [9]float32 // x_ras, y_ras, z_ras direction cosines
	CRAS        [3]float32
}

// data always starts here regardless of how much of the header is used
const mghDataOffset = 284

// MGH voxel types
const (
	mghUchar = 0
	mghInt   = 1
	mghFloat = 3
	mghShort = 4
)

// ReadMGH decodes a FreeSurfer .mgh image from r. Compression is handled by
// the caller.
func ReadMGH(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	var h mghHeader
	if err := binary.Read(br, binary.BigEndian, &h); err != nil {
		return nil, fmt.Errorf("reading mgh header: %w", err)
	}
	if h.Version != 1 {
		return nil, fmt.Errorf("unsupported mgh version %d", h.Version)
	}
	if h.Width < 1 || h.Height < 1 || h.Depth < 1 || h.Frames < 1 {
		return nil, fmt.Errorf("invalid mgh dimensions %dx%dx%dx%d", h.Width, h.Height, h.Depth, h.Frames)
	}
	if _, err := br.Discard(mghDataOffset - binary.Size(h)); err != nil {
		return nil, fmt.Errorf("mgh header truncated: %w", err)
	}

	var bpv int
	switch h.Type {
	case mghUchar:
		bpv = 1
	case mghShort:
		bpv = 2
	case mghInt, mghFloat:
		bpv = 4
	default:
		return nil, fmt.Errorf("unsupported mgh voxel type %d", h.Type)
	}

	dims := [3]int{int(h.Width), int(h.Height), int(h.Depth)}
	n := dims[0] * dims[1] * dims[2] * int(h.Frames)
	buf := make([]byte, n*bpv)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("reading %d voxels: %w", n, err)
	}
	data := make([]float64, n)
	order := binary.BigEndian
	for i := range data {
		switch h.Type {
		case mghUchar:
			data[i] = float64(buf[i])
		case mghShort:
			data[i] = float64(int16(order.Uint16(buf[2*i:])))
		case mghInt:
			data[i] = float64(int32(order.Uint32(buf[4*i:])))
		case mghFloat:
			data[i] = float64(math.Float32frombits(order.Uint32(buf[4*i:])))
		}
	}

	return &Image{
		Dims:   dims,
		Frames: int(h.Frames),
		Affine: mghAffine(h),
		Data:   data,
	}, nil
}

// mghAffine builds the vox2ras matrix: direction cosines scaled by voxel
// size, translated so that the volume centre lands on c_ras.
func mghAffine(h mghHeader) models.Affine {
	spacing := [3]float64{1, 1, 1}
	mdc := [9]float64{-1, 0, 0, 0, 0, -1, 0, 1, 0}
	var cras [3]float64
	if h.GoodRASFlag > 0 {
		for i := 0; i < 3; i++ {
			spacing[i] = float64(h.Spacing[i])
			cras[i] = float64(h.CRAS[i])
		}
		for i := range mdc {
			mdc[i] = float64(h.Mdc[i])
		}
	}

	var a models.Affine
	center := [3]float64{float64(h.Width) / 2, float64(h.Height) / 2, float64(h.Depth) / 2}
	for row := 0; row < 3; row++ {
		off := cras[row]
		for col := 0; col < 3; col++ {
			// Mdc is stored column by column
			v := mdc[3*col+row] * spacing[col]
			a[4*row+col] = v
			off -= v * center[col]
		}
		a[4*row+3] = off
	}
	a[15] = 1
	return a
}
