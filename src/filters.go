package skywave

/*------------------------------------------------------------------
 *
 * Purpose:	Per-frequency audio filters.
 *
 *		NotchFilter removes a narrow band (typically a CTCSS
 *		tone) from demodulated audio.
 *
 *		LowpassFilter is a 2nd order Bessel lowpass applied to
 *		the derotated I/Q stream at bandwidth/2, based on a
 *		simplification of https://www-users.cs.york.ac.uk/~fisher/mkfilter/
 *
 *---------------------------------------------------------------*/

import (
	"math"
	"math/cmplx"
)

// NotchFilter is a biquad notch, based on https://www.dsprelated.com/showcode/173.php
type NotchFilter struct {
	enabled bool
	e, p    float32
	d       [3]float32
	x, y    [3]float32
}

func notch_filter_create(notch_freq, sample_freq, q float32) NotchFilter {
	if notch_freq <= 0.0 {
		log_debug("invalid notch frequency, disabling notch filter", "freq", notch_freq)
		return NotchFilter{}
	}

	var f NotchFilter
	f.enabled = true

	var wo = 2.0 * math.Pi * float64(notch_freq/sample_freq)

	f.e = float32(1.0 / (1.0 + math.Tan(wo/float64(q*2.0))))
	f.p = float32(math.Cos(wo))
	f.d[0] = f.e
	f.d[1] = 2.0 * f.e * f.p
	f.d[2] = 2.0*f.e - 1.0
	return f
}

func (f *NotchFilter) apply(value *float32) {
	if !f.enabled {
		return
	}

	f.x[0] = f.x[1]
	f.x[1] = f.x[2]
	f.x[2] = *value

	f.y[0] = f.y[1]
	f.y[1] = f.y[2]
	f.y[2] = f.d[0]*f.x[2] - f.d[1]*f.x[1] + f.d[0]*f.x[0] + f.d[1]*f.y[1] - f.d[2]*f.y[0]

	*value = f.y[2]
}

type LowpassFilter struct {
	enabled bool
	gain    float64
	ycoeffs [3]float64
	xv      [3]complex64
	yv      [3]complex64
}

func lowpass_filter_create(freq, sample_freq float32) LowpassFilter {
	if freq <= 0.0 {
		log_debug("invalid lowpass frequency, disabling lowpass filter", "freq", freq)
		return LowpassFilter{}
	}

	var f LowpassFilter
	f.enabled = true

	var raw_alpha = float64(freq) / float64(sample_freq)
	var warped_alpha = math.Tan(math.Pi*raw_alpha) / math.Pi

	var bessel_pole = complex(-1.10160133059e+00, 6.36009824757e-01)
	var zeros = [2]complex128{-1.0, -1.0}
	var poles [2]complex128
	poles[0] = lowpass_blt(complex(math.Pi*2*warped_alpha, 0) * bessel_pole)
	poles[1] = lowpass_blt(complex(math.Pi*2*warped_alpha, 0) * cmplx.Conj(bessel_pole))

	var topcoeffs [3]complex128
	var botcoeffs [3]complex128
	lowpass_expand(zeros[:], topcoeffs[:])
	lowpass_expand(poles[:], botcoeffs[:])
	var gain_complex = lowpass_evaluate(topcoeffs[:], botcoeffs[:], 1.0)
	f.gain = math.Hypot(imag(gain_complex), real(gain_complex))

	for i := 0; i <= 2; i++ {
		f.ycoeffs[i] = -(real(botcoeffs[i]) / real(botcoeffs[2]))
	}
	return f
}

func lowpass_blt(pz complex128) complex128 {
	return (2.0 + pz) / (2.0 - pz)
}

/* evaluate response, substituting for z */
func lowpass_evaluate(topco, botco []complex128, z complex128) complex128 {
	return lowpass_eval(topco, z) / lowpass_eval(botco, z)
}

/* evaluate polynomial in z, substituting for z */
func lowpass_eval(coeffs []complex128, z complex128) complex128 {
	var sum complex128
	for i := len(coeffs) - 1; i >= 0; i-- {
		sum = sum*z + coeffs[i]
	}
	return sum
}

/* compute product of poles or zeros as a polynomial of z */
func lowpass_expand(pz []complex128, coeffs []complex128) {
	coeffs[0] = 1.0
	for i := 1; i < len(coeffs); i++ {
		coeffs[i] = 0.0
	}
	for i := 0; i < len(pz); i++ {
		lowpass_multin(pz[i], len(pz), coeffs)
	}
	/* computed coeffs of z^k must all be real */
	for i := 0; i < len(pz)+1; i++ {
		if math.Abs(imag(coeffs[i])) > 1e-10 {
			log_fatal("lowpass filter: coefficient is not real; poles/zeros are not complex conjugates", "index", i)
		}
	}
}

func lowpass_multin(w complex128, npz int, coeffs []complex128) {
	/* multiply factor (z-w) into coeffs */
	var nw = -w
	for i := npz; i >= 1; i-- {
		coeffs[i] = nw*coeffs[i] + coeffs[i-1]
	}
	coeffs[0] = nw * coeffs[0]
}

func (f *LowpassFilter) is_enabled() bool {
	return f.enabled
}

func (f *LowpassFilter) apply(r, j *float32) {
	if !f.enabled {
		return
	}

	var input = complex(*r, *j)

	f.xv[0] = f.xv[1]
	f.xv[1] = f.xv[2]
	f.xv[2] = input / complex(float32(f.gain), 0)

	f.yv[0] = f.yv[1]
	f.yv[1] = f.yv[2]
	f.yv[2] = (f.xv[0] + f.xv[2]) + 2.0*f.xv[1] +
		complex(float32(f.ycoeffs[0]), 0)*f.yv[0] +
		complex(float32(f.ycoeffs[1]), 0)*f.yv[1]

	*r = real(f.yv[2])
	*j = imag(f.yv[2])
}
