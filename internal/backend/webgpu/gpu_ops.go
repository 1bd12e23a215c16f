//go:build windows

package webgpu

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
)

// f32Bytes reinterprets a float32 slice as its backing bytes.
func f32Bytes(s []float32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*4)
}

// bytesF32 reinterprets raw bytes as float32 elements.
func bytesF32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/4)
}

// Relu computes max(0, x) elementwise, propagating NaN.
func (b *Backend) Relu(features []float32) ([]float32, error) {
	return b.runUnary("relu", reluShader, features, 0)
}

// Relu6 computes min(6, max(0, x)) elementwise, propagating NaN.
func (b *Backend) Relu6(features []float32) ([]float32, error) {
	return b.runUnary("relu6", relu6Shader, features, 0)
}

// LeakyRelu computes x where positive and alpha*x elsewhere.
func (b *Backend) LeakyRelu(features []float32, alpha float32) ([]float32, error) {
	return b.runUnary("leaky_relu", leakyReluShader, features, alpha)
}

// Elu computes x where non-negative and exp(x)-1 elsewhere.
func (b *Backend) Elu(features []float32) ([]float32, error) {
	return b.runUnary("elu", eluShader, features, 0)
}

// Selu computes the scaled exponential linear unit.
func (b *Backend) Selu(features []float32) ([]float32, error) {
	return b.runUnary("selu", seluShader, features, 0)
}

// Gelu computes the tanh-approximation GELU.
func (b *Backend) Gelu(features []float32) ([]float32, error) {
	return b.runUnary("gelu", geluShader, features, 0)
}

// ReluGrad gates gradients on features > 0.
func (b *Backend) ReluGrad(gradients, features []float32) ([]float32, error) {
	return b.runBinary("relu_grad", reluGradShader, gradients, features, 0)
}

// Relu6Grad gates gradients on 0 < features < 6.
func (b *Backend) Relu6Grad(gradients, features []float32) ([]float32, error) {
	return b.runBinary("relu6_grad", relu6GradShader, gradients, features, 0)
}

// LeakyReluGrad passes gradients where features > 0 and scales by alpha
// elsewhere.
func (b *Backend) LeakyReluGrad(gradients, features []float32, alpha float32) ([]float32, error) {
	return b.runBinary("leaky_relu_grad", leakyReluGradShader, gradients, features, alpha)
}

// EluGrad takes the forward outputs as its second operand.
func (b *Backend) EluGrad(gradients, activations []float32) ([]float32, error) {
	return b.runBinary("elu_grad", eluGradShader, gradients, activations, 0)
}

// SeluGrad takes the forward outputs as its second operand.
func (b *Backend) SeluGrad(gradients, activations []float32) ([]float32, error) {
	return b.runBinary("selu_grad", seluGradShader, gradients, activations, 0)
}

// GeluGrad takes the forward inputs as its second operand.
func (b *Backend) GeluGrad(gradients, features []float32) ([]float32, error) {
	return b.runBinary("gelu_grad", geluGradShader, gradients, features, 0)
}

// Quant8Fwd casts every element through the (we, wm) narrow format and
// returns the decoded values.
func (b *Backend) Quant8Fwd(in []float32, we, wm int, stoch bool, seed uint32) ([]float32, error) {
	if len(in) == 0 {
		return nil, nil
	}

	shader := b.compileShader("quant8", quant8Shader)
	pipeline := b.getOrCreatePipeline("quant8", shader)

	bufferInput := b.createBuffer(f32Bytes(in), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferInput.Release()

	resultSize := uint64(len(in) * 4)
	bufferResult := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultSize,
	})
	defer bufferResult.Release()

	var mode uint32
	if stoch {
		mode = 1
	}
	params := make([]byte, 32)
	binary.LittleEndian.PutUint32(params[0:4], uint32(len(in)))
	binary.LittleEndian.PutUint32(params[4:8], uint32(we))
	binary.LittleEndian.PutUint32(params[8:12], uint32(wm))
	binary.LittleEndian.PutUint32(params[12:16], mode)
	binary.LittleEndian.PutUint32(params[16:20], seed)
	bufferParams := b.createUniformBuffer(params)
	defer bufferParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferInput, 0, resultSize),
		wgpu.BufferBindingEntry(1, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(2, bufferParams, 0, 32),
	})
	defer bindGroup.Release()

	if err := b.dispatch(pipeline, bindGroup, len(in)); err != nil {
		return nil, err
	}
	resultData, err := b.readBuffer(bufferResult, resultSize)
	if err != nil {
		return nil, err
	}
	return bytesF32(resultData), nil
}

// Quant8Bwd is the straight-through gradient of the cast.
func (b *Backend) Quant8Bwd(gradients []float32) ([]float32, error) {
	return b.runUnary("quant8_bwd", copyShader, gradients, 0)
}

// runUnary executes a one-input elementwise shader.
func (b *Backend) runUnary(name, code string, input []float32, alpha float32) ([]float32, error) {
	if len(input) == 0 {
		return nil, nil
	}

	shader := b.compileShader(name, code)
	pipeline := b.getOrCreatePipeline(name, shader)

	bufferInput := b.createBuffer(f32Bytes(input), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferInput.Release()

	resultSize := uint64(len(input) * 4)
	bufferResult := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultSize,
	})
	defer bufferResult.Release()

	bufferParams := b.createUniformBuffer(elementParams(len(input), alpha))
	defer bufferParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferInput, 0, resultSize),
		wgpu.BufferBindingEntry(1, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(2, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	if err := b.dispatch(pipeline, bindGroup, len(input)); err != nil {
		return nil, err
	}
	resultData, err := b.readBuffer(bufferResult, resultSize)
	if err != nil {
		return nil, err
	}
	return bytesF32(resultData), nil
}

// runBinary executes a (gradients, features) elementwise shader.
func (b *Backend) runBinary(name, code string, gradients, features []float32, alpha float32) ([]float32, error) {
	if len(gradients) == 0 {
		return nil, nil
	}

	shader := b.compileShader(name, code)
	pipeline := b.getOrCreatePipeline(name, shader)

	bufferGrad := b.createBuffer(f32Bytes(gradients), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferGrad.Release()

	bufferFeat := b.createBuffer(f32Bytes(features), wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc)
	defer bufferFeat.Release()

	resultSize := uint64(len(gradients) * 4)
	bufferResult := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  resultSize,
	})
	defer bufferResult.Release()

	bufferParams := b.createUniformBuffer(elementParams(len(gradients), alpha))
	defer bufferParams.Release()

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := b.device.CreateBindGroupSimple(bindGroupLayout, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, bufferGrad, 0, resultSize),
		wgpu.BufferBindingEntry(1, bufferFeat, 0, resultSize),
		wgpu.BufferBindingEntry(2, bufferResult, 0, resultSize),
		wgpu.BufferBindingEntry(3, bufferParams, 0, 16),
	})
	defer bindGroup.Release()

	if err := b.dispatch(pipeline, bindGroup, len(gradients)); err != nil {
		return nil, err
	}
	resultData, err := b.readBuffer(bufferResult, resultSize)
	if err != nil {
		return nil, err
	}
	return bytesF32(resultData), nil
}

// elementParams packs the shared {size, alpha} uniform block.
func elementParams(n int, alpha float32) []byte {
	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(n))
	binary.LittleEndian.PutUint32(params[4:8], math.Float32bits(alpha))
	return params
}

// dispatch records and submits one compute pass covering n elements.
func (b *Backend) dispatch(pipeline *wgpu.ComputePipeline, bindGroup *wgpu.BindGroup, n int) error {
	encoder := b.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	workgroups := uint32((n + workgroupSize - 1) / workgroupSize)
	computePass.DispatchWorkgroups(workgroups, 1, 1)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	b.queue.Submit(cmdBuffer)
	return nil
}
