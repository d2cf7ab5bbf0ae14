package audio

import (
	"bytes"
	"encoding/binary"
)

// webmClusterID is the EBML element ID that starts every WebM/Matroska cluster.
var webmClusterID = []byte{0x1F, 0x43, 0xB6, 0x75}

// oggCapture is the magic at the start of every Ogg page.
var oggCapture = []byte("OggS")

// MaxContainerHeader bounds how many leading stream bytes are searched for the
// end of a container header.
const MaxContainerHeader = 64 << 10

// ContainerHeader returns the initialisation bytes at the start of a container
// stream: everything a decoder needs before the first media block. Segments
// cut from the middle of the stream are only decodable with this header in
// front of them.
//
// head holds the first bytes of the stream, possibly spanning several frames.
// complete is false while the end of the header has not been seen yet; call
// again with more bytes. For WebM the header ends at the first Cluster element,
// for Ogg at the first page with a non-zero granule position. Formats without
// a known header layout, PCM included, report (nil, true), as does a stream
// whose header is not found within [MaxContainerHeader] bytes.
func ContainerHeader(contentType string, head []byte) (header []byte, complete bool) {
	var end int
	switch MediaType(contentType) {
	case ContentTypeWebM, "video/webm":
		end = bytes.Index(head, webmClusterID)
	case ContentTypeOgg, "audio/opus", "video/ogg":
		end = oggHeaderEnd(head)
	default:
		return nil, true
	}
	switch {
	case end > 0:
		return bytes.Clone(head[:end]), true
	case end == 0, len(head) >= MaxContainerHeader:
		return nil, true
	default:
		return nil, false
	}
}

// oggHeaderEnd returns the offset of the first Ogg page that carries media, 0
// when head does not start with a page, or -1 when more bytes are needed.
// Header pages (identification, comments, setup) have granule position 0.
func oggHeaderEnd(head []byte) int {
	off := 0
	for {
		page := head[off:]
		if len(page) < 27 {
			return -1
		}
		if !bytes.HasPrefix(page, oggCapture) {
			return 0
		}
		if binary.LittleEndian.Uint64(page[6:14]) != 0 {
			return off
		}
		nsegs := int(page[26])
		if len(page) < 27+nsegs {
			return -1
		}
		size := 27 + nsegs
		for _, lacing := range page[27 : 27+nsegs] {
			size += int(lacing)
		}
		off += size
	}
}
