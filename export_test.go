// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

// StampBuffer exposes the frame encoder to external tests.
var StampBuffer = stampBuffer
