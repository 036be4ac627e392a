//go:build windows

package capture

/*
#cgo LDFLAGS: -ld3d11 -ldxgi
#include <stdint.h>
#include <stdlib.h>
#include <windows.h>
#include <d3d11.h>
#include <dxgi1_2.h>

#define DXGI_CAP_OK       0
#define DXGI_CAP_TIMEOUT  1
#define DXGI_CAP_FALLBACK 2
#define DXGI_CAP_FAILED   3

typedef struct {
	uint16_t adapter;
	uint16_t output;
	int      width;
	int      height;
	int      left;
	int      top;
	int      primary;
	WCHAR    name[32];
} OutputDesc;

// enumOutputs walks every DXGI adapter/output pair and records its desktop
// geometry. Works without creating a D3D device.
static int enumOutputs(OutputDesc *list, int max) {
	IDXGIFactory1 *factory = NULL;
	if (FAILED(CreateDXGIFactory1(&IID_IDXGIFactory1, (void **)&factory))) {
		return -1;
	}

	int n = 0;
	for (UINT a = 0; n < max; a++) {
		IDXGIAdapter1 *adapter = NULL;
		if (factory->lpVtbl->EnumAdapters1(factory, a, &adapter) != S_OK) {
			break;
		}
		for (UINT o = 0; n < max; o++) {
			IDXGIOutput *output = NULL;
			if (adapter->lpVtbl->EnumOutputs(adapter, o, &output) != S_OK) {
				break;
			}
			DXGI_OUTPUT_DESC desc;
			if (SUCCEEDED(output->lpVtbl->GetDesc(output, &desc)) && desc.AttachedToDesktop) {
				OutputDesc *d = &list[n++];
				d->adapter = (uint16_t)a;
				d->output = (uint16_t)o;
				d->left = desc.DesktopCoordinates.left;
				d->top = desc.DesktopCoordinates.top;
				d->width = desc.DesktopCoordinates.right - desc.DesktopCoordinates.left;
				d->height = desc.DesktopCoordinates.bottom - desc.DesktopCoordinates.top;
				d->primary = (desc.DesktopCoordinates.left == 0 && desc.DesktopCoordinates.top == 0);
				memcpy(d->name, desc.DeviceName, sizeof(d->name));
			}
			output->lpVtbl->Release(output);
		}
		adapter->lpVtbl->Release(adapter);
	}

	factory->lpVtbl->Release(factory);
	return n;
}

typedef struct {
	ID3D11Device           *device;
	ID3D11DeviceContext    *context;
	IDXGIOutputDuplication *duplication;
	ID3D11Texture2D        *stagingTex;
	int                     width;
	int                     height;
} DxgiDuplicator;

static void dxgi_release(DxgiDuplicator *m) {
	if (!m) return;
	if (m->stagingTex) m->stagingTex->lpVtbl->Release(m->stagingTex);
	if (m->duplication) m->duplication->lpVtbl->Release(m->duplication);
	if (m->context) m->context->lpVtbl->Release(m->context);
	if (m->device) m->device->lpVtbl->Release(m->device);
	free(m);
}

static DxgiDuplicator *dxgi_init(int adapterIndex, int outputIndex) {
	IDXGIFactory1 *factory = NULL;
	if (FAILED(CreateDXGIFactory1(&IID_IDXGIFactory1, (void **)&factory))) {
		return NULL;
	}

	IDXGIAdapter1 *adapter = NULL;
	if (factory->lpVtbl->EnumAdapters1(factory, adapterIndex, &adapter) != S_OK) {
		factory->lpVtbl->Release(factory);
		return NULL;
	}
	factory->lpVtbl->Release(factory);

	DxgiDuplicator *m = (DxgiDuplicator *)calloc(1, sizeof(DxgiDuplicator));
	D3D_FEATURE_LEVEL level;
	HRESULT hr = D3D11CreateDevice((IDXGIAdapter *)adapter, D3D_DRIVER_TYPE_UNKNOWN, NULL, 0,
	                               NULL, 0, D3D11_SDK_VERSION, &m->device, &level, &m->context);
	if (FAILED(hr)) {
		adapter->lpVtbl->Release(adapter);
		dxgi_release(m);
		return NULL;
	}

	IDXGIOutput *output = NULL;
	hr = adapter->lpVtbl->EnumOutputs(adapter, outputIndex, &output);
	adapter->lpVtbl->Release(adapter);
	if (hr != S_OK) {
		dxgi_release(m);
		return NULL;
	}

	IDXGIOutput1 *output1 = NULL;
	hr = output->lpVtbl->QueryInterface(output, &IID_IDXGIOutput1, (void **)&output1);
	output->lpVtbl->Release(output);
	if (FAILED(hr)) {
		dxgi_release(m);
		return NULL;
	}

	hr = output1->lpVtbl->DuplicateOutput(output1, (IUnknown *)m->device, &m->duplication);
	output1->lpVtbl->Release(output1);
	if (FAILED(hr)) {
		dxgi_release(m);
		return NULL;
	}

	DXGI_OUTDUPL_DESC desc;
	m->duplication->lpVtbl->GetDesc(m->duplication, &desc);
	m->width = desc.ModeDesc.Width;
	m->height = desc.ModeDesc.Height;
	return m;
}

// dxgi_capture copies the next desktop frame into destBuf as tight BGRA.
// The staging texture is created once and reused across calls.
static int dxgi_capture(DxgiDuplicator *m, uint8_t *destBuf, int destSize, int timeoutMs) {
	if (!m || destSize < m->width * m->height * 4) return DXGI_CAP_FAILED;

	IDXGIResource *desktopRes = NULL;
	DXGI_OUTDUPL_FRAME_INFO frameInfo;
	HRESULT hr = m->duplication->lpVtbl->AcquireNextFrame(m->duplication, timeoutMs, &frameInfo, &desktopRes);
	if (hr == DXGI_ERROR_WAIT_TIMEOUT) return DXGI_CAP_TIMEOUT;
	if (hr == E_ACCESSDENIED || hr == DXGI_ERROR_ACCESS_LOST ||
	    hr == DXGI_ERROR_NOT_CURRENTLY_AVAILABLE || hr == DXGI_ERROR_SESSION_DISCONNECTED) {
		return DXGI_CAP_FALLBACK;
	}
	if (FAILED(hr)) return DXGI_CAP_FAILED;

	ID3D11Texture2D *gpuTex = NULL;
	hr = desktopRes->lpVtbl->QueryInterface(desktopRes, &IID_ID3D11Texture2D, (void **)&gpuTex);
	desktopRes->lpVtbl->Release(desktopRes);
	if (FAILED(hr)) {
		m->duplication->lpVtbl->ReleaseFrame(m->duplication);
		return DXGI_CAP_FAILED;
	}

	if (m->stagingTex == NULL) {
		D3D11_TEXTURE2D_DESC desc;
		gpuTex->lpVtbl->GetDesc(gpuTex, &desc);
		desc.Usage = D3D11_USAGE_STAGING;
		desc.CPUAccessFlags = D3D11_CPU_ACCESS_READ;
		desc.BindFlags = 0;
		desc.MiscFlags = 0;
		desc.MipLevels = 1;
		desc.ArraySize = 1;
		desc.SampleDesc.Count = 1;
		hr = m->device->lpVtbl->CreateTexture2D(m->device, &desc, NULL, &m->stagingTex);
		if (FAILED(hr)) {
			gpuTex->lpVtbl->Release(gpuTex);
			m->duplication->lpVtbl->ReleaseFrame(m->duplication);
			return DXGI_CAP_FAILED;
		}
	}

	m->context->lpVtbl->CopyResource(m->context, (ID3D11Resource *)m->stagingTex, (ID3D11Resource *)gpuTex);
	gpuTex->lpVtbl->Release(gpuTex);

	D3D11_MAPPED_SUBRESOURCE mapped;
	hr = m->context->lpVtbl->Map(m->context, (ID3D11Resource *)m->stagingTex, 0, D3D11_MAP_READ, 0, &mapped);
	if (FAILED(hr)) {
		m->duplication->lpVtbl->ReleaseFrame(m->duplication);
		return DXGI_CAP_FAILED;
	}

	uint8_t *src = (uint8_t *)mapped.pData;
	uint8_t *dst = destBuf;
	int rowLen = m->width * 4;
	for (int y = 0; y < m->height; y++) {
		memcpy(dst, src, rowLen);
		dst += rowLen;
		src += mapped.RowPitch;
	}
	m->context->lpVtbl->Unmap(m->context, (ID3D11Resource *)m->stagingTex, 0);
	m->duplication->lpVtbl->ReleaseFrame(m->duplication);
	return DXGI_CAP_OK;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/SOURCE-Platform/screencore/internal/logger"
)

const (
	maxWindowsOutputs = 16
	// AcquireNextFrame waits at most this long before the capture reports a
	// timeout and falls back to BitBlt.
	duplicationTimeoutMs = 1000
)

// windowsSurface prefers zero-copy DXGI desktop duplication and falls back
// transparently to a GDI bit-block transfer of the same display when the
// duplication interface is denied, already in use, or times out.
type windowsSurface struct {
	session
	opts Options

	dupMu       sync.Mutex
	duplicators map[uint32]*C.DxgiDuplicator
}

type windowsOutput struct {
	Display
	left int32
	top  int32
}

func newPlatformSurface(opts Options) (Surface, error) {
	logger.WithComponent("windows-capture").Info().Msg("DXGI capture initialized")
	return &windowsSurface{
		opts:        opts,
		duplicators: make(map[uint32]*C.DxgiDuplicator),
	}, nil
}

func (s *windowsSurface) outputs() ([]windowsOutput, error) {
	var descs [maxWindowsOutputs]C.OutputDesc
	n := int(C.enumOutputs(&descs[0], maxWindowsOutputs))
	if n < 0 {
		return nil, fmt.Errorf("%w: DXGI factory creation failed", ErrCaptureFailed)
	}

	outputs := make([]windowsOutput, 0, n)
	for i := 0; i < n; i++ {
		d := descs[i]
		name := windows.UTF16ToString((*[32]uint16)(unsafe.Pointer(&d.name[0]))[:])
		outputs = append(outputs, windowsOutput{
			Display: Display{
				ID:        PackDisplayID(uint16(d.adapter), uint16(d.output)),
				Name:      name,
				Width:     uint32(d.width),
				Height:    uint32(d.height),
				IsPrimary: d.primary != 0,
			},
			left: int32(d.left),
			top:  int32(d.top),
		})
	}
	return outputs, nil
}

// Displays enumerates adapter/output pairs fresh on every call.
func (s *windowsSurface) Displays() ([]Display, error) {
	outputs, err := s.outputs()
	if err != nil {
		return nil, err
	}
	displays := make([]Display, len(outputs))
	for i, o := range outputs {
		displays[i] = o.Display
	}
	return displays, nil
}

// CaptureFrame captures a single frame of the given display.
func (s *windowsSurface) CaptureFrame(displayID uint32) (*RawFrame, error) {
	outputs, err := s.outputs()
	if err != nil {
		return nil, err
	}
	var target *windowsOutput
	for i := range outputs {
		if outputs[i].ID == displayID {
			target = &outputs[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}

	log := logger.WithComponent("windows-capture")

	dup := s.duplicator(displayID)
	if dup != nil {
		data := make([]byte, int(target.Width)*int(target.Height)*4)
		ret := C.dxgi_capture(dup, (*C.uint8_t)(unsafe.Pointer(&data[0])), C.int(len(data)), duplicationTimeoutMs)
		switch ret {
		case C.DXGI_CAP_OK:
			return &RawFrame{
				Timestamp: time.Now().UnixMilli(),
				Width:     target.Width,
				Height:    target.Height,
				Data:      data,
				Format:    PixelFormatBGRA8,
			}, nil
		case C.DXGI_CAP_TIMEOUT:
			log.Debug().Uint32("display_id", displayID).Msg("duplication timed out, using BitBlt fallback")
		case C.DXGI_CAP_FALLBACK:
			log.Warn().Uint32("display_id", displayID).Msg("duplication unavailable, dropping handle and using BitBlt fallback")
			s.dropDuplicator(displayID)
		default:
			return nil, fmt.Errorf("%w: DXGI duplication capture failed", ErrCaptureFailed)
		}
	} else {
		log.Debug().Uint32("display_id", displayID).Msg("duplication unavailable, using BitBlt fallback")
	}

	return s.gdiCapture(target)
}

// duplicator returns the cached duplication handle for the display, creating
// it on first use. A nil result means duplication is unavailable.
func (s *windowsSurface) duplicator(displayID uint32) *C.DxgiDuplicator {
	s.dupMu.Lock()
	defer s.dupMu.Unlock()

	if dup, ok := s.duplicators[displayID]; ok {
		return dup
	}
	adapter, output := UnpackDisplayID(displayID)
	dup := C.dxgi_init(C.int(adapter), C.int(output))
	if dup == nil {
		return nil
	}
	s.duplicators[displayID] = dup
	return dup
}

func (s *windowsSurface) dropDuplicator(displayID uint32) {
	s.dupMu.Lock()
	defer s.dupMu.Unlock()
	if dup, ok := s.duplicators[displayID]; ok {
		C.dxgi_release(dup)
		delete(s.duplicators, displayID)
	}
}

var (
	user32        = windows.NewLazySystemDLL("user32.dll")
	gdi32         = windows.NewLazySystemDLL("gdi32.dll")
	procGetDC     = user32.NewProc("GetDC")
	procReleaseDC = user32.NewProc("ReleaseDC")
	procCreateDC  = gdi32.NewProc("CreateCompatibleDC")
	procCreateDIB = gdi32.NewProc("CreateDIBSection")
	procSelectObj = gdi32.NewProc("SelectObject")
	procBitBlt    = gdi32.NewProc("BitBlt")
	procDeleteObj = gdi32.NewProc("DeleteObject")
	procDeleteDC  = gdi32.NewProc("DeleteDC")
)

const (
	srccopy      = 0x00CC0020
	captureblt   = 0x40000000
	biRGB        = 0
	dibRGBColors = 0
)

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// gdiCapture is the legacy bit-block-transfer path. Slower than duplication
// but available in sessions where duplication is denied.
func (s *windowsSurface) gdiCapture(target *windowsOutput) (*RawFrame, error) {
	width := int32(target.Width)
	height := int32(target.Height)

	screenDC, _, _ := procGetDC.Call(0)
	if screenDC == 0 {
		return nil, fmt.Errorf("%w: GetDC failed", ErrCaptureFailed)
	}
	defer procReleaseDC.Call(0, screenDC)

	memDC, _, _ := procCreateDC.Call(screenDC)
	if memDC == 0 {
		return nil, fmt.Errorf("%w: CreateCompatibleDC failed", ErrCaptureFailed)
	}
	defer procDeleteDC.Call(memDC)

	header := bitmapInfoHeader{
		Width:       width,
		Height:      -height, // top-down rows
		Planes:      1,
		BitCount:    32,
		Compression: biRGB,
	}
	header.Size = uint32(unsafe.Sizeof(header))

	var bits unsafe.Pointer
	bitmap, _, _ := procCreateDIB.Call(memDC, uintptr(unsafe.Pointer(&header)), dibRGBColors, uintptr(unsafe.Pointer(&bits)), 0, 0)
	if bitmap == 0 || bits == nil {
		return nil, fmt.Errorf("%w: CreateDIBSection failed", ErrCaptureFailed)
	}
	defer procDeleteObj.Call(bitmap)

	prev, _, _ := procSelectObj.Call(memDC, bitmap)
	defer procSelectObj.Call(memDC, prev)

	ok, _, _ := procBitBlt.Call(memDC, 0, 0, uintptr(width), uintptr(height),
		screenDC, uintptr(target.left), uintptr(target.top), srccopy|captureblt)
	if ok == 0 {
		return nil, fmt.Errorf("%w: BitBlt failed", ErrCaptureFailed)
	}

	size := int(width) * int(height) * 4
	data := make([]byte, size)
	copy(data, unsafe.Slice((*byte)(bits), size))

	return &RawFrame{
		Timestamp: time.Now().UnixMilli(),
		Width:     target.Width,
		Height:    target.Height,
		Data:      data,
		Format:    PixelFormatBGRA8,
	}, nil
}

// StartCapture begins continuous capture after re-validating the id.
func (s *windowsSurface) StartCapture(displayID uint32) error {
	displays, err := s.Displays()
	if err != nil {
		return err
	}
	if _, ok := displayByID(displays, displayID); !ok {
		return fmt.Errorf("%w: id %d", ErrDisplayNotFound, displayID)
	}
	return s.start(displayID, s.opts.FPS, s.CaptureFrame)
}

func (s *windowsSurface) StopCapture() error {
	return s.stopCapture()
}

func (s *windowsSurface) IsCapturing() bool {
	return s.isCapturing()
}

func (s *windowsSurface) CurrentDisplayID() (uint32, bool) {
	return s.currentDisplayID()
}

func (s *windowsSurface) Frames() <-chan *RawFrame {
	return s.frameChannel()
}

// Close stops any active capture and releases all duplication handles.
func (s *windowsSurface) Close() error {
	s.stopIfCapturing()
	s.dupMu.Lock()
	defer s.dupMu.Unlock()
	for id, dup := range s.duplicators {
		C.dxgi_release(dup)
		delete(s.duplicators, id)
	}
	return nil
}
