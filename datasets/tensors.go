package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/Noofbiz/metaloader/batch"
	"github.com/Noofbiz/metaloader/episode"
	"github.com/Noofbiz/metaloader/imaging"
)

// ImageBatchFlat stores a set of same-shaped images and their labels in flat
// contiguous buffers.
type ImageBatchFlat struct {
	Images    []float32
	Labels    []int32
	BatchSize int
	C, H, W   int
}

// MakeImageBatchFlat flattens images into a contiguous [N, C, H, W] buffer.
func MakeImageBatchFlat(images []*imaging.Image, labels []int) (*ImageBatchFlat, error) {
	if len(images) != len(labels) {
		return nil, errors.Errorf("images and labels batch sizes don't match: %d != %d", len(images), len(labels))
	}
	if len(images) == 0 {
		return &ImageBatchFlat{}, nil
	}

	first := images[0]
	size := first.C * first.H * first.W
	flat := &ImageBatchFlat{
		Images:    make([]float32, len(images)*size),
		Labels:    make([]int32, len(labels)),
		BatchSize: len(images),
		C:         first.C,
		H:         first.H,
		W:         first.W,
	}
	for i, im := range images {
		if !im.SameShape(first) {
			return nil, errors.Errorf("inconsistent image dimensions at example %d: expected %dx%dx%d, got %dx%dx%d",
				i, first.C, first.H, first.W, im.C, im.H, im.W)
		}
		copy(flat.Images[i*size:], im.Pix)
		flat.Labels[i] = int32(labels[i])
	}
	return flat, nil
}

// MakeItemBatchFlat flattens batch items.
func MakeItemBatchFlat(items []batch.Item) (*ImageBatchFlat, error) {
	images := make([]*imaging.Image, len(items))
	labels := make([]int, len(items))
	for i, it := range items {
		images[i] = it.Image
		labels[i] = it.Label
	}
	return MakeImageBatchFlat(images, labels)
}

// ToGomlxTensors converts the batch to an image tensor [N, C, H, W] and a label
// tensor [N].
func (b *ImageBatchFlat) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	// handle empty batch gracefully
	if b.BatchSize == 0 {
		return tensors.FromFlatDataAndDimensions([]float32{}, 0), tensors.FromFlatDataAndDimensions([]int32{}, 0), nil
	}
	imT := tensors.FromFlatDataAndDimensions(b.Images, b.BatchSize, b.C, b.H, b.W)
	labT := tensors.FromFlatDataAndDimensions(b.Labels, b.BatchSize)
	return imT, labT, nil
}

// EpisodeTensors converts an episode into inputs [support, query] and labels
// [supportLabels, queryLabels].
func EpisodeTensors(ep *episode.Episode) (inputs, labels []*tensors.Tensor, err error) {
	support, err := MakeImageBatchFlat(ep.SupportImages, ep.SupportLabels)
	if err != nil {
		return nil, nil, errors.Wrap(err, "support set")
	}
	query, err := MakeImageBatchFlat(ep.QueryImages, ep.QueryLabels)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query set")
	}
	if support.BatchSize > 0 && query.BatchSize > 0 && (support.C != query.C || support.H != query.H || support.W != query.W) {
		return nil, nil, errors.Errorf("support images are %dx%dx%d but query images are %dx%dx%d",
			support.C, support.H, support.W, query.C, query.H, query.W)
	}
	sIm, sLab, err := support.ToGomlxTensors()
	if err != nil {
		return nil, nil, err
	}
	qIm, qLab, err := query.ToGomlxTensors()
	if err != nil {
		return nil, nil, err
	}
	return []*tensors.Tensor{sIm, qIm}, []*tensors.Tensor{sLab, qLab}, nil
}
