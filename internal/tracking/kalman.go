// Package tracking turns per-frame detections into persistent, occlusion-
// tolerant Tracks via a constant-velocity Kalman filter. The matrix helpers
// below operate on the fixed 4-state (x, y, vx, vy) model directly — no
// general-purpose linear-algebra dependency is wired here because the
// per-frame path must not allocate (§5), and a 4x4/2x2 special case is
// simpler to keep allocation-free than a general matrix library's API
// allows; see DESIGN.md for why this stays on plain arithmetic.
package tracking

import (
	"math"

	"github.com/r-mccarty/rs1-firmware/common"
)

// ProcessNoise configures the Kalman predict step's Q diagonal.
type ProcessNoise struct {
	Position float64 // mm^2 per second of noise accumulated into P's position terms
	Velocity float64 // (mm/s)^2 per second of noise accumulated into P's velocity terms
}

// MeasurementNoise configures the Kalman update step's R diagonal.
type MeasurementNoise struct {
	X float64 // mm^2
	Y float64 // mm^2
}

// predict advances a track's state and covariance by dt seconds under the
// constant-velocity model: x ← x + vx·dt, y ← y + vy·dt, P ← F P Fᵀ + Q.
func predict(tr *common.Track, dt float64, q ProcessNoise) {
	x, y, vx, vy := tr.X, tr.Y, tr.VX, tr.VY
	tr.X = x + vx*dt
	tr.Y = y + vy*dt
	// vx, vy unchanged under constant velocity.

	P := tr.P
	// F = [[1,0,dt,0],[0,1,0,dt],[0,0,1,0],[0,0,0,1]]
	// FP = F * P
	var FP common.Mat4
	for j := 0; j < 4; j++ {
		FP[0][j] = P[0][j] + dt*P[2][j]
		FP[1][j] = P[1][j] + dt*P[3][j]
		FP[2][j] = P[2][j]
		FP[3][j] = P[3][j]
	}
	// FPFt = FP * Fᵀ
	var FPFt common.Mat4
	for i := 0; i < 4; i++ {
		FPFt[i][0] = FP[i][0] + dt*FP[i][2]
		FPFt[i][1] = FP[i][1] + dt*FP[i][3]
		FPFt[i][2] = FP[i][2]
		FPFt[i][3] = FP[i][3]
	}

	FPFt[0][0] += q.Position * dt
	FPFt[1][1] += q.Position * dt
	FPFt[2][2] += q.Velocity * dt
	FPFt[3][3] += q.Velocity * dt
	tr.P = FPFt
}

// update applies a position measurement (zx, zy) via the Kalman gain,
// writing the posterior state/covariance in place using the Joseph form so
// P stays symmetric and positive semi-definite even under numerical error.
// It returns the pre- and post-update Euclidean distance to the
// measurement (the innovation-reduces-error quantities); Tracker.Process
// does not use them.
func update(tr *common.Track, zx, zy float64, r MeasurementNoise) (preErr, postErr float64) {
	preErr = math.Hypot(zx-tr.X, zy-tr.Y)

	P := tr.P
	// S = H P Hᵀ + R, H selects the (x,y) rows/cols.
	s00 := P[0][0] + r.X
	s01 := P[0][1]
	s10 := P[1][0]
	s11 := P[1][1] + r.Y

	det := s00*s11 - s01*s10
	if det == 0 {
		postErr = preErr
		return
	}
	invDet := 1 / det
	si00 := s11 * invDet
	si01 := -s01 * invDet
	si10 := -s10 * invDet
	si11 := s00 * invDet

	// K = P Hᵀ S^-1, a 4x2 matrix; P Hᵀ is just P's first two columns.
	var K [4][2]float64
	for i := 0; i < 4; i++ {
		ph0 := P[i][0]
		ph1 := P[i][1]
		K[i][0] = ph0*si00 + ph1*si10
		K[i][1] = ph0*si01 + ph1*si11
	}

	yx := zx - tr.X
	yy := zy - tr.Y
	tr.X += K[0][0]*yx + K[0][1]*yy
	tr.Y += K[1][0]*yx + K[1][1]*yy
	tr.VX += K[2][0]*yx + K[2][1]*yy
	tr.VY += K[3][0]*yx + K[3][1]*yy

	// Joseph form: P' = (I-KH) P (I-KH)ᵀ + K R Kᵀ
	var IKH common.Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := 0.0
			if i == j {
				v = 1
			}
			if j == 0 {
				v -= K[i][0]
			} else if j == 1 {
				v -= K[i][1]
			}
			IKH[i][j] = v
		}
	}

	var tmp common.Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += IKH[i][k] * P[k][j]
			}
			tmp[i][j] = sum
		}
	}
	// K R Kᵀ; R diagonal simplifies the product.
	var KRKt common.Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			KRKt[i][j] = K[i][0]*r.X*K[j][0] + K[i][1]*r.Y*K[j][1]
		}
	}

	var newP common.Mat4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += tmp[i][k] * IKH[j][k]
			}
			newP[i][j] = sum + KRKt[i][j]
		}
	}

	tr.P = newP
	postErr = math.Hypot(zx-tr.X, zy-tr.Y)
	return
}

// isFinite reports whether a track's state and covariance contain no
// NaN/Inf values.
func isFinite(tr *common.Track) bool {
	vals := []float64{tr.X, tr.Y, tr.VX, tr.VY}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := tr.P[i][j]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// isWellConditioned reports whether P's diagonal is non-negative and the
// determinant of its 2x2 position block is at least eps. It does not
// compute the full 4x4 determinant of P and is not a Cholesky test.
func isWellConditioned(tr *common.Track, eps float64) bool {
	P := tr.P
	for i := 0; i < 4; i++ {
		if P[i][i] < 0 {
			return false
		}
	}
	det2 := P[0][0]*P[1][1] - P[0][1]*P[1][0]
	if det2 < eps {
		return false
	}
	return true
}

// inflatedCovariance returns a fresh diagonal covariance used when spawning
// a track or recovering from divergence.
func inflatedCovariance(posVar, velVar float64) common.Mat4 {
	var P common.Mat4
	P[0][0] = posVar
	P[1][1] = posVar
	P[2][2] = velVar
	P[3][3] = velVar
	return P
}
