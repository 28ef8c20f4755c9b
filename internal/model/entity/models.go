package entity

// Models 返回需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&Document{},
		&ChainHead{},
		&Revision{},
		&RevisionPart{},
		&PartSticker{},
		&ConfigDriftRecord{},
		&RiskProfile{},
		&DecisionLogEntry{},
	}
}
