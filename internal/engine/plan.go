package engine

// Chunk is one contiguous byte range of the target file, downloaded
// independently. End is inclusive.
type Chunk struct {
	Index int
	Start int64
	End   int64
}

// Length returns the chunk size in bytes.
func (c Chunk) Length() int64 {
	return c.End - c.Start + 1
}

// PlanChunks partitions totalSize bytes into connections contiguous,
// non-overlapping chunks of floor(totalSize/connections) bytes each, with the
// final chunk extended to absorb the remainder so the lengths sum to
// totalSize exactly.
func PlanChunks(totalSize int64, connections int) []Chunk {
	if totalSize <= 0 {
		return nil
	}
	if connections < 1 {
		connections = 1
	}
	if int64(connections) > totalSize {
		connections = int(totalSize)
	}

	chunkSize := totalSize / int64(connections)
	chunks := make([]Chunk, 0, connections)
	for i := 0; i < connections; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == connections-1 {
			end = totalSize - 1
		}
		chunks = append(chunks, Chunk{Index: i, Start: start, End: end})
	}
	return chunks
}
