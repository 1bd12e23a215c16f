//go:build windows

package webgpu

// WGSL compute shaders. Each activation shader defines op() over one
// element; the surrounding boilerplate (bindings, bounds check) is shared.

// workgroupSize is the number of invocations per workgroup.
const workgroupSize = 256

// unaryShader wraps an op(x, alpha) body into a full forward shader.
func unaryShader(body string) string {
	return `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    alpha: f32,
}
@group(0) @binding(2) var<uniform> params: Params;

fn op(x: f32, alpha: f32) -> f32 {
` + body + `
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.size) {
        return;
    }
    result[idx] = op(input[idx], params.alpha);
}
`
}

// binaryShader wraps an op(g, x, alpha) body into a full backward shader.
// The second operand is the forward input or output, per operator.
func binaryShader(body string) string {
	return `
@group(0) @binding(0) var<storage, read> gradients: array<f32>;
@group(0) @binding(1) var<storage, read> features: array<f32>;
@group(0) @binding(2) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    alpha: f32,
}
@group(0) @binding(3) var<uniform> params: Params;

fn op(g: f32, x: f32, alpha: f32) -> f32 {
` + body + `
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.size) {
        return;
    }
    result[idx] = op(gradients[idx], features[idx], params.alpha);
}
`
}

var (
	reluShader = unaryShader(`
    if (x > 0.0 || x != x) {
        return x;
    }
    return 0.0;`)

	relu6Shader = unaryShader(`
    if (x != x) {
        return x;
    }
    return clamp(x, 0.0, 6.0);`)

	leakyReluShader = unaryShader(`
    if (x > 0.0) {
        return x;
    }
    return x * alpha;`)

	eluShader = unaryShader(`
    if (x < 0.0) {
        return exp(x) - 1.0;
    }
    return x;`)

	seluShader = unaryShader(`
    if (x < 0.0) {
        return 1.7580993408473768 * (exp(x) - 1.0);
    }
    return 1.0507009873554805 * x;`)

	geluShader = unaryShader(`
    let z = 0.7978845608028654 * x + 0.035677408136300124 * x * x * x;
    return 0.5 * x * (1.0 + tanh(z));`)

	reluGradShader = binaryShader(`
    if (x > 0.0) {
        return g;
    }
    return 0.0;`)

	relu6GradShader = binaryShader(`
    if (x > 0.0 && x < 6.0) {
        return g;
    }
    return 0.0;`)

	leakyReluGradShader = binaryShader(`
    if (x > 0.0) {
        return g;
    }
    return g * alpha;`)

	// x is the forward output.
	eluGradShader = binaryShader(`
    if (x < 0.0) {
        return g * (x + 1.0);
    }
    return g;`)

	// x is the forward output.
	seluGradShader = binaryShader(`
    if (x < 0.0) {
        return g * (x + 1.7580993408473768);
    }
    return g * 1.0507009873554805;`)

	geluGradShader = binaryShader(`
    let p1 = 0.7978845608028654;
    let p3 = 0.035677408136300124;
    let z = p1 * x + p3 * x * x * x;
    let cz = 1.0 / cosh(z);
    return g * 0.5 * (1.0 + tanh(z) + x * (p1 + 3.0 * p3 * x * x) * cz * cz);`)

	copyShader = unaryShader(`
    return x;`)
)

// quant8Shader casts float32 elements through a narrow float format given
// by the we/wm uniform fields, with round-to-nearest-even or stochastic
// rounding, and stores the decoded values. It mirrors the host encoder in
// u32 arithmetic; fractions smaller than 2^-32 of the rounding quantum are
// flushed, which only affects magnitudes far below the subnormal range.
const quant8Shader = `
@group(0) @binding(0) var<storage, read> input: array<f32>;
@group(0) @binding(1) var<storage, read_write> result: array<f32>;

struct Params {
    size: u32,
    we: u32,
    wm: u32,
    mode: u32, // 1 = stochastic rounding
    seed: u32,
}
@group(0) @binding(2) var<uniform> params: Params;

fn mix_rng(src: u32, i: u32, seed: u32) -> u32 {
    var d = (src & 0xFFFFu) ^ (src >> 16u);
    d = ((d & 31u) << 11u) | (d >> 5u);
    d = d * 0x7000149u;
    return d ^ 0x13371337u ^ (i * 229791u) ^ seed;
}

fn q8_encode(x: f32, idx: u32) -> u32 {
    let we = params.we;
    let wm = params.wm;
    let bias = (1u << (we - 1u)) - 1u;
    let sign_shift = we + wm;
    let max_finite = (((1u << we) - 2u) << wm) | ((1u << wm) - 1u);
    let nan_bits = (((1u << we) - 1u) << wm) | ((1u << wm) - 1u);

    let b = bitcast<u32>(x);
    let sign_bit = (b >> 31u) << sign_shift;
    let exp = (b >> 23u) & 0xFFu;
    let man = b & 0x7FFFFFu;

    if (exp == 0xFFu) {
        if (man != 0u) {
            return sign_bit | nan_bits;
        }
        return sign_bit | max_finite;
    }
    if ((b & 0x7FFFFFFFu) == 0u) {
        return sign_bit;
    }

    // Normalize the source significand to 1.x * 2^e.
    var e = i32(exp) - 127;
    var c = man;
    if (exp == 0u) {
        e = -126;
        loop {
            if ((c & (1u << 23u)) != 0u) { break; }
            c = c << 1u;
            e = e - 1;
        }
        c = c & 0x7FFFFFu;
    }
    c = c | (1u << 23u);

    var te = e + i32(bias);
    var shift = 23u - wm;
    if (te < 1) {
        shift = shift + u32(1 - te);
        te = 0;
    }
    if (shift > 31u) {
        return sign_bit; // far below half the smallest subnormal
    }

    if (params.mode == 1u) {
        let rng = mix_rng(b, idx, params.seed);
        c = c + (rng & ((1u << shift) - 1u));
    } else {
        c = c + ((c >> shift) & 1u) + (1u << (shift - 1u)) - 1u;
    }
    let v = c >> shift;

    var bits = v;
    if (te > 0) {
        bits = v + ((u32(te) - 1u) << wm);
    }
    if ((bits >> wm) >= (1u << we) - 1u) {
        return sign_bit | max_finite;
    }
    return sign_bit | bits;
}

fn q8_decode(bits: u32) -> f32 {
    let we = params.we;
    let wm = params.wm;
    let bias = (1u << (we - 1u)) - 1u;
    let sign_shift = we + wm;

    let sign = ((bits >> sign_shift) & 1u) << 31u;
    var exp = i32((bits >> wm) & ((1u << we) - 1u));
    var man = bits & ((1u << wm) - 1u);

    if (exp == i32((1u << we) - 1u)) {
        if (man != 0u) {
            return bitcast<f32>(sign | 0x7FC00000u | (man << (23u - wm)));
        }
        return bitcast<f32>(sign | 0x7F800000u);
    }

    if (exp == 0) {
        if (man == 0u) {
            return bitcast<f32>(sign);
        }
        exp = 1;
        loop {
            if ((man & (1u << wm)) != 0u) { break; }
            man = man << 1u;
            exp = exp - 1;
        }
        man = man & ((1u << wm) - 1u);
    }

    let e32 = exp - i32(bias) + 127;
    let man32 = man << (23u - wm);
    if (e32 <= 0) {
        let full = (1u << 23u) | man32;
        return bitcast<f32>(sign | (full >> u32(1 - e32)));
    }
    return bitcast<f32>(sign | (u32(e32) << 23u) | man32);
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let idx = global_id.x;
    if (idx >= params.size) {
        return;
    }
    result[idx] = q8_decode(q8_encode(input[idx], idx));
}
`
