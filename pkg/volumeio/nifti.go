// Methods to read and write NIfTI-1 files.
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h

package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"boldconfounds/internal/models"
)

// Header defines the structure of the Nifti1 header.
type Header struct {
	SizeofHdr          int32      // Must be 348
	UnusedDataType     [10]int8   // Unused
	UnusedDbName       [18]int8   // Unused
	UnusedExtents      int32      // Unused
	UnusedSessionError int16      // Unused
	UnusedRegular      int8       // Unused
	DimInfo            int8       // MRI slice ordering
	Dim                [8]int16   // Data array dimensions
	IntentP1           float32    // 1st intent parameter
	IntentP2           float32    // 2nd intent parameter
	IntentP3           float32    // 3rd intent parameter
	IntentCode         int16      // NIFTI_INTENT_* code
	Datatype           int16      // Defines data type
	Bitpix             int16      // Number bits/voxel
	SliceStart         int16      // First slice index
	Pixdim             [8]float32 // Grid spacing
	VoxOffset          float32    // Offset into .nii file
	SclSlope           float32    // Data scaling: slope
	SclInter           float32    // Data scaling: offset
	SliceEnd           int16      // Last slice index
	SliceCode          int8       // Slice timing order
	XyztUnits          int8       // Units of pixdim[1..4]
	CalMax             float32    // Max display intensity
	CalMin             float32    // Min display intensity
	SliceDuration      float32    // Time for 1 slice
	Toffset            float32    // Time axis shift
	UnusedGlmax        int32      // Unused
	UnusedGlmin        int32      // Unused
	Descrip            [80]int8   // Any text you like
	AuxFile            [24]int8   // Auxiliary filename
	QformCode          int16      // NIFTI_XFORM_* code
	SformCode          int16      // NIFTI_XFORM_* code
	QuaternB           float32    // Quaternion b params
	QuaternC           float32    // Quaternion c params
	QuaternD           float32    // Quaternion d params
	QoffsetX           float32    // Quaternion x shift
	QoffsetY           float32    // Quaternion y shift
	QoffsetZ           float32    // Quaternion z shift
	SrowX              [4]float32 // 1st row affine transform
	SrowY              [4]float32 // 2nd row affine transform
	SrowZ              [4]float32 // 3rd row affine transform
	IntentName         [16]int8   // 'name' or meaning of data
	Magic              [4]int8    // Must be "ni1\0" or "n+1\0"
}

const headerSize = 352
const minHeaderSize = 348

// NIfTI datatype codes
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
)

var singleFileMagic = [4]int8{110, 43, 49, 0} // "n+1\0"

// xform codes
const (
	xformScannerAnat = 1
	xformAligned     = 2
)

// bytesPerVoxel returns the storage size of a datatype code.
func bytesPerVoxel(dt int16) (int, error) {
	switch dt {
	case DTUint8, DTInt8:
		return 1, nil
	case DTInt16, DTUint16:
		return 2, nil
	case DTInt32, DTUint32, DTFloat32:
		return 4, nil
	case DTFloat64:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported NIfTI datatype %d", dt)
}

// readNIfTIHeader decodes the fixed header, detecting byte order from sizeof_hdr.
func readNIfTIHeader(raw []byte) (Header, binary.ByteOrder, error) {
	var h Header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return h, nil, err
	}
	if h.SizeofHdr != minHeaderSize {
		h = Header{}
		order = binary.BigEndian
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return h, nil, err
		}
	}
	if h.SizeofHdr != minHeaderSize {
		return h, nil, fmt.Errorf("invalid header size for nifti-1: %d", h.SizeofHdr)
	}
	if h.Magic != singleFileMagic {
		return h, nil, fmt.Errorf("invalid file magic, data must be stored in same file as header")
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		return h, nil, fmt.Errorf("Dim[0] is not in range [1, 7]: %d", h.Dim[0])
	}
	return h, order, nil
}

// ReadNIfTI decodes a single-file NIfTI-1 image from r. Compression is handled
// by the caller.
func ReadNIfTI(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	raw := make([]byte, minHeaderSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("reading nifti header: %w", err)
	}
	h, order, err := readNIfTIHeader(raw)
	if err != nil {
		return nil, err
	}

	var dims [3]int
	frames := 1
	ndim := int(h.Dim[0])
	for i := 0; i < 3; i++ {
		dims[i] = 1
		if i+1 <= ndim && h.Dim[i+1] > 0 {
			dims[i] = int(h.Dim[i+1])
		}
	}
	if ndim >= 4 && h.Dim[4] > 0 {
		frames = int(h.Dim[4])
	}
	for i := 5; i <= ndim; i++ {
		if h.Dim[i] > 1 {
			return nil, fmt.Errorf("nifti images with more than 4 dimensions are not supported (dim[%d]=%d)", i, h.Dim[i])
		}
	}

	bpv, err := bytesPerVoxel(h.Datatype)
	if err != nil {
		return nil, err
	}

	offset := int64(h.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}
	if _, err := br.Discard(int(offset - minHeaderSize)); err != nil {
		return nil, fmt.Errorf("file has fewer bytes than offset requires: %w", err)
	}

	n := dims[0] * dims[1] * dims[2] * frames
	buf := make([]byte, n*bpv)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("reading %d voxels: %w", n, err)
	}
	data := decodeVoxels(buf, h.Datatype, order, n)

	if h.SclSlope != 0 && !(h.SclSlope == 1 && h.SclInter == 0) {
		m, b := float64(h.SclSlope), float64(h.SclInter)
		for i := range data {
			data[i] = m*data[i] + b
		}
	}

	return &Image{
		Dims:   dims,
		Frames: frames,
		Affine: headerAffine(h),
		Data:   data,
		TR:     headerTR(h),
	}, nil
}

func decodeVoxels(buf []byte, dt int16, order binary.ByteOrder, n int) []float64 {
	data := make([]float64, n)
	switch dt {
	case DTUint8:
		for i := range data {
			data[i] = float64(buf[i])
		}
	case DTInt8:
		for i := range data {
			data[i] = float64(int8(buf[i]))
		}
	case DTInt16:
		for i := range data {
			data[i] = float64(int16(order.Uint16(buf[2*i:])))
		}
	case DTUint16:
		for i := range data {
			data[i] = float64(order.Uint16(buf[2*i:]))
		}
	case DTInt32:
		for i := range data {
			data[i] = float64(int32(order.Uint32(buf[4*i:])))
		}
	case DTUint32:
		for i := range data {
			data[i] = float64(order.Uint32(buf[4*i:]))
		}
	case DTFloat32:
		for i := range data {
			data[i] = float64(math.Float32frombits(order.Uint32(buf[4*i:])))
		}
	case DTFloat64:
		for i := range data {
			data[i] = math.Float64frombits(order.Uint64(buf[8*i:]))
		}
	}
	return data
}

// headerAffine prefers the sform, then the qform, then plain voxel sizes.
func headerAffine(h Header) models.Affine {
	if h.SformCode > 0 {
		var a models.Affine
		for j := 0; j < 4; j++ {
			a[j] = float64(h.SrowX[j])
			a[4+j] = float64(h.SrowY[j])
			a[8+j] = float64(h.SrowZ[j])
		}
		a[15] = 1
		return a
	}
	if h.QformCode > 0 {
		return quaternToAffine(h)
	}
	a := models.IdentityAffine()
	for i := 0; i < 3; i++ {
		if d := float64(h.Pixdim[i+1]); d > 0 {
			a[5*i] = d
		}
	}
	return a
}

// quaternToAffine follows quatern_to_mat44 from nifti1_io.c.
func quaternToAffine(h Header) models.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		s := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*s, c*s, d*s
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	dx, dy, dz := float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3])
	if dx <= 0 {
		dx = 1
	}
	if dy <= 0 {
		dy = 1
	}
	if dz <= 0 {
		dz = 1
	}
	if h.Pixdim[0] < 0 {
		dz = -dz
	}

	return models.Affine{
		(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QoffsetX),
		2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QoffsetY),
		2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QoffsetZ),
		0, 0, 0, 1,
	}
}

// headerTR converts pixdim[4] to seconds using the time bits of xyzt_units.
func headerTR(h Header) float64 {
	if h.Dim[0] < 4 {
		return 0
	}
	tr := float64(h.Pixdim[4])
	switch int(h.XyztUnits) & 0x38 {
	case 16: // msec
		tr /= 1e3
	case 24: // usec
		tr /= 1e6
	}
	return tr
}

// WriteNIfTI encodes img as a little-endian single-file NIfTI-1 image using
// datatype dt. The affine is stored as an aligned sform.
func WriteNIfTI(w io.Writer, img *Image, dt int16) error {
	bpv, err := bytesPerVoxel(dt)
	if err != nil {
		return err
	}
	h := Header{
		SizeofHdr: minHeaderSize,
		Datatype:  dt,
		Bitpix:    int16(8 * bpv),
		VoxOffset: headerSize,
		SclSlope:  1,
		XyztUnits: 2 | 8, // mm, sec
		SformCode: xformAligned,
		Magic:     singleFileMagic,
	}
	h.Dim[0] = 3
	h.Dim[1], h.Dim[2], h.Dim[3] = int16(img.Dims[0]), int16(img.Dims[1]), int16(img.Dims[2])
	h.Dim[4] = 1
	if img.Frames > 1 {
		h.Dim[0] = 4
		h.Dim[4] = int16(img.Frames)
	}
	for i := 5; i < 8; i++ {
		h.Dim[i] = 1
	}
	h.Pixdim[0] = 1
	for i := 0; i < 3; i++ {
		col := [3]float64{img.Affine[i], img.Affine[4+i], img.Affine[8+i]}
		h.Pixdim[i+1] = float32(math.Sqrt(col[0]*col[0] + col[1]*col[1] + col[2]*col[2]))
	}
	h.Pixdim[4] = float32(img.TR)
	for j := 0; j < 4; j++ {
		h.SrowX[j] = float32(img.Affine[j])
		h.SrowY[j] = float32(img.Affine[4+j])
		h.SrowZ[j] = float32(img.Affine[8+j])
	}

	bw := bufio.NewWriter(w)
	order := binary.LittleEndian
	if err := binary.Write(bw, order, &h); err != nil {
		return err
	}
	// empty extension block
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return err
	}

	buf := make([]byte, bpv)
	for _, v := range img.Data {
		switch dt {
		case DTUint8:
			buf[0] = uint8(v)
		case DTInt8:
			buf[0] = uint8(int8(v))
		case DTInt16:
			order.PutUint16(buf, uint16(int16(v)))
		case DTUint16:
			order.PutUint16(buf, uint16(v))
		case DTInt32:
			order.PutUint32(buf, uint32(int32(v)))
		case DTUint32:
			order.PutUint32(buf, uint32(v))
		case DTFloat32:
			order.PutUint32(buf, math.Float32bits(float32(v)))
		case DTFloat64:
			order.PutUint64(buf, math.Float64bits(v))
		}
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
