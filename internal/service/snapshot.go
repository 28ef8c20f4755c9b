package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
)

// snapshot 零件列表的规范 JSON 与其 sha256
//
// 去掉ID和时间戳，相同内容的版本得到相同哈希。
func snapshot(parts []entity.RevisionPart) ([]byte, string, error) {
	canon := make([]entity.RevisionPart, len(parts))
	for i, p := range parts {
		p.ID = ""
		p.RevisionID = ""
		p.CreatedAt = time.Time{}
		canon[i] = p
	}
	data, err := json.Marshal(canon)
	if err != nil {
		return nil, "", fmt.Errorf("marshal snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

func snapshotKey(documentID, label, hash string) string {
	return fmt.Sprintf("snapshots/%s/%s-%s.json", documentID, label, hash[:12])
}
