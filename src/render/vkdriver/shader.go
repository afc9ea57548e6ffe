package vkdriver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	vk "github.com/vulkan-go/vulkan"
)

const spirvMagic = 0x07230203

var errNotSPIRV = errors.New("not a SPIR-V module")

// LoadSPIRV reads a compiled shader module from disk.
func LoadSPIRV(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load shader: %w", err)
	}
	code, err := decodeSPIRV(data)
	if err != nil {
		return nil, fmt.Errorf("load shader %s: %w", path, err)
	}
	return code, nil
}

func decodeSPIRV(data []byte) ([]uint32, error) {
	if len(data) < 20 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", errNotSPIRV, len(data))
	}
	order := binary.ByteOrder(binary.LittleEndian)
	if order.Uint32(data) != spirvMagic {
		order = binary.BigEndian
		if order.Uint32(data) != spirvMagic {
			return nil, fmt.Errorf("%w: bad magic %#x", errNotSPIRV, binary.LittleEndian.Uint32(data))
		}
	}
	code := make([]uint32, len(data)/4)
	for i := range code {
		code[i] = order.Uint32(data[i*4:])
	}
	return code, nil
}

func (d *device) createShaderModule(code []uint32) (vk.ShaderModule, error) {
	var module vk.ShaderModule
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	if err := NewError(vk.CreateShaderModule(d.handle, &info, nil, &module)); err != nil {
		return module, fmt.Errorf("create shader module: %w", err)
	}
	return module, nil
}
